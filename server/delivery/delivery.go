// Package delivery resolves external tokens and streams the referenced bytes
// back to clients with HTTP range semantics, stitching composite references
// together across carrier object boundaries.
package delivery

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cespare/xxhash/v2"

	"github.com/ferryd/ferry/server/blobstore"
	"github.com/ferryd/ferry/server/logging"
	"github.com/ferryd/ferry/server/registry"
)

var ErrReferenceNotFound = errors.New("delivery: reference not found")

type Engine struct {
	registry registry.Registry
	stores   map[string]blobstore.Store
	logger   logging.Logger
}

func New(reg registry.Registry, stores []blobstore.Store, logger logging.Logger) *Engine {
	byName := make(map[string]blobstore.Store, len(stores))
	for _, s := range stores {
		byName[s.Name()] = s
	}
	return &Engine{registry: reg, stores: byName, logger: logger}
}

// Delivery is one open, ready-to-stream response. Body yields exactly
// End-Start+1 bytes (TotalSize bytes for a full delivery). Closing Body
// aborts any in-flight upstream pull, so dropping it on client disconnect
// promptly releases the carrier connection.
type Delivery struct {
	Body      io.ReadCloser
	Status    int
	Start     int64
	End       int64
	TotalSize int64
	ETag      string
	Filename  string
}

func (d *Delivery) ContentLength() int64 {
	if d.TotalSize == 0 {
		return 0
	}
	return d.End - d.Start + 1
}

func (d *Delivery) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", d.Start, d.End, d.TotalSize)
}

// Open resolves token and prepares a stream for the window requested by
// rangeHeader (the raw Range request header, possibly empty).
func (e *Engine) Open(ctx context.Context, token string, rangeHeader string) (*Delivery, error) {
	entry, err := e.registry.Resolve(ctx, token)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, ErrReferenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving token: %w", err)
	}

	rng, err := parseRange(rangeHeader, entry.TotalBytes)
	if err != nil {
		return nil, err
	}

	d := &Delivery{
		Status:    http.StatusOK,
		Start:     0,
		TotalSize: entry.TotalBytes,
		ETag:      entryETag(entry),
		Filename:  entry.Filename,
	}
	if entry.TotalBytes > 0 {
		d.End = entry.TotalBytes - 1
	}
	window := blobstore.ByteRange{Start: 0, End: d.End}
	if rng != nil {
		window = *rng
		d.Status = http.StatusPartialContent
		d.Start, d.End = rng.Start, rng.End
	}

	if entry.TotalBytes == 0 {
		d.Body = io.NopCloser(&emptyReader{})
		return d, nil
	}
	d.Body = &partReader{
		ctx:    ctx,
		engine: e,
		parts:  overlappingParts(entry.Parts, window),
		window: window,
	}
	return d, nil
}

// overlappingParts keeps only the parts intersecting the requested window.
// This is the payoff of per-part offsets: parts wholly outside the window
// are never fetched from the carrier.
func overlappingParts(parts []registry.Part, window blobstore.ByteRange) []registry.Part {
	var out []registry.Part
	for _, p := range parts {
		if p.Offset+p.Length-1 < window.Start || p.Offset > window.End {
			continue
		}
		out = append(out, p)
	}
	return out
}

// partReader concatenates the requested window across parts, opening one
// upstream stream at a time in index order.
type partReader struct {
	ctx    context.Context
	engine *Engine
	parts  []registry.Part
	window blobstore.ByteRange

	idx int
	cur io.ReadCloser
}

func (r *partReader) Read(p []byte) (int, error) {
	for {
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		if r.cur == nil {
			if r.idx >= len(r.parts) {
				return 0, io.EOF
			}
			cur, err := r.engine.openPart(r.ctx, r.parts[r.idx], r.window)
			if err != nil {
				return 0, err
			}
			r.cur = cur
		}
		n, err := r.cur.Read(p)
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			r.idx++
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *partReader) Close() error {
	if r.cur != nil {
		err := r.cur.Close()
		r.cur = nil
		r.idx = len(r.parts)
		return err
	}
	return nil
}

// openPart opens one part limited to its overlap with the requested window.
// The part-local range is passed upstream; if the carrier did not honor it
// (or honored a wider one), the stream is sliced in software. Correctness
// never depends on upstream range support.
func (e *Engine) openPart(ctx context.Context, part registry.Part, window blobstore.ByteRange) (io.ReadCloser, error) {
	store, ok := e.stores[part.Backend]
	if !ok {
		return nil, fmt.Errorf("no store for backend %q", part.Backend)
	}
	want := blobstore.ByteRange{
		Start: max(window.Start, part.Offset) - part.Offset,
		End:   min(window.End, part.Offset+part.Length-1) - part.Offset,
	}
	var rng *blobstore.ByteRange
	if want.Start != 0 || want.End != part.Length-1 {
		rng = &want
	}
	obj, err := store.Open(ctx, part.Ref(), rng)
	if err != nil {
		return nil, fmt.Errorf("opening part %d: %w", part.Index, err)
	}
	got := blobstore.ByteRange{Start: 0, End: part.Length - 1}
	if obj.EffectiveRange != nil {
		got = *obj.EffectiveRange
	}
	if got.Start > want.Start || got.End < want.End {
		obj.Body.Close()
		return nil, fmt.Errorf("carrier returned range %v, want %v for part %d", got, want, part.Index)
	}
	if got == want {
		return obj.Body, nil
	}
	e.logger.Debug(ctx, "carrier did not honor range, slicing in software",
		"part", part.Index, "want", want.String())
	return newSliceReader(obj.Body, want.Start-got.Start, want.Length()), nil
}

// entryETag derives a strong validator from the per-part content checksums
// recorded at upload time.
func entryETag(entry *registry.Entry) string {
	digest := xxhash.New()
	var buf [8]byte
	for _, p := range entry.Parts {
		binary.BigEndian.PutUint64(buf[:], p.Checksum)
		digest.Write(buf[:])
	}
	return fmt.Sprintf("\"%016x\"", digest.Sum64())
}

// sliceReader discards skip bytes from rc, then yields at most n bytes.
// The discard happens lazily on first read so opening a delivery stays cheap.
type sliceReader struct {
	rc   io.ReadCloser
	skip int64
	lr   io.LimitedReader
}

func newSliceReader(rc io.ReadCloser, skip, n int64) *sliceReader {
	return &sliceReader{rc: rc, skip: skip, lr: io.LimitedReader{R: rc, N: n}}
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.skip > 0 {
		if _, err := io.CopyN(io.Discard, s.rc, s.skip); err != nil {
			return 0, fmt.Errorf("discarding %d leading bytes: %w", s.skip, err)
		}
		s.skip = 0
	}
	return s.lr.Read(p)
}

func (s *sliceReader) Close() error {
	return s.rc.Close()
}

type emptyReader struct{}

func (*emptyReader) Read([]byte) (int, error) {
	return 0, io.EOF
}
