package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ferryd/ferry/server/blobstore"
)

var ErrNotFound = errors.New("registry: token not found")

type Kind string

const (
	KindSingle    Kind = "single"
	KindComposite Kind = "composite"
)

// Part is one carrier object making up a logical blob. Offsets are byte
// positions within the logical blob; parts of an entry are contiguous and
// gap-free, and Index equals the part's position in upload order.
type Part struct {
	Index     int
	Backend   string
	CarrierID string
	Offset    int64
	Length    int64
	Checksum  uint64
}

// Ref reconstructs the carrier handle for this part.
func (p Part) Ref() blobstore.Ref {
	return blobstore.Ref{CarrierID: p.CarrierID, Size: p.Length}
}

// Entry is the durable record behind one external token. Entries are written
// exactly once and never mutated; a re-upload creates a new entry.
type Entry struct {
	Token      string
	Kind       Kind
	Filename   string
	TotalBytes int64
	CreatedAt  time.Time
	Parts      []Part
}

// Registry maps external tokens to carrier references. Register must be
// durable before it returns; implementations are append-only, so concurrent
// writers need no coordination beyond the store's own.
type Registry interface {
	Register(ctx context.Context, kind Kind, filename string, parts []Part) (string, error)
	Resolve(ctx context.Context, token string) (*Entry, error)
}

const (
	tokenLength = 16
	tokenChars  = "bcdfghjklmnpqrstvwxzBCDFGHJKLMNPQRSTVWXZ0123456789"
)

// NewToken returns a fresh external token. Tokens deliberately do not encode
// the carrier id, so carrier identities never leak into public URLs.
func NewToken() (string, error) {
	var s strings.Builder
	for i := 0; i < tokenLength; i++ {
		r, err := rand.Int(rand.Reader, big.NewInt(int64(len(tokenChars))))
		if err != nil {
			return "", fmt.Errorf("generating random number: %w", err)
		}
		if !r.IsInt64() {
			return "", fmt.Errorf("random number is not an int64")
		}
		s.WriteByte(tokenChars[r.Int64()])
	}
	return s.String(), nil
}

// TotalBytes sums part lengths.
func TotalBytes(parts []Part) int64 {
	var total int64
	for _, p := range parts {
		total += p.Length
	}
	return total
}

// ValidateParts checks the contiguity invariant before an entry is written.
func ValidateParts(parts []Part) error {
	if len(parts) == 0 {
		return fmt.Errorf("entry must have at least one part")
	}
	var offset int64
	for i, p := range parts {
		if p.Index != i {
			return fmt.Errorf("part %d has index %d", i, p.Index)
		}
		if p.Offset != offset {
			return fmt.Errorf("part %d starts at %d, want %d", i, p.Offset, offset)
		}
		if p.Length <= 0 && !(len(parts) == 1 && p.Length == 0) {
			return fmt.Errorf("part %d has length %d", i, p.Length)
		}
		offset += p.Length
	}
	return nil
}
