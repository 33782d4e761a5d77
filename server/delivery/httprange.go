package delivery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ferryd/ferry/server/blobstore"
)

// RangeNotSatisfiableError reports a well-formed Range header whose window
// falls entirely outside the object. Responses carry "bytes */<size>".
type RangeNotSatisfiableError struct {
	TotalSize int64
}

func (e *RangeNotSatisfiableError) Error() string {
	return fmt.Sprintf("requested range not satisfiable (size %d)", e.TotalSize)
}

// parseRange interprets a Range request header against an object of the
// given size. It returns (nil, nil) when the header is absent or malformed:
// RFC 7233 lets a server ignore Range headers it does not understand, and a
// full 200 response is always correct. Multi-range requests are treated as
// not understood. A well-formed but unsatisfiable range yields
// *RangeNotSatisfiableError.
func parseRange(header string, size int64) (*blobstore.ByteRange, error) {
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil, nil
	}
	spec = strings.TrimSpace(spec)
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, nil
	}

	if startStr == "" {
		// Suffix form: last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n < 0 {
			return nil, nil
		}
		if n == 0 || size == 0 {
			return nil, &RangeNotSatisfiableError{TotalSize: size}
		}
		if n > size {
			n = size
		}
		return &blobstore.ByteRange{Start: size - n, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, nil
	}
	if start >= size {
		return nil, &RangeNotSatisfiableError{TotalSize: size}
	}
	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return nil, nil
		}
		if end > size-1 {
			end = size - 1
		}
	}
	return &blobstore.ByteRange{Start: start, End: end}, nil
}
