// Package chunker decides how an inbound byte stream reaches the carrier:
// as one object when it fits a ceiling, or as ordered fixed-size segments
// when it does not.
package chunker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/ferryd/ferry/server/blobstore"
	"github.com/ferryd/ferry/server/logging"
	"github.com/ferryd/ferry/server/registry"
)

// ErrUploadFailed means every applicable strategy was exhausted, including
// per-segment retries. Segments already uploaded by an aborted attempt stay
// on the carrier as unreachable garbage; nothing gets registered.
var ErrUploadFailed = errors.New("chunker: upload failed")

const (
	// DefaultChunkBytes is the segment size for the chunked fallback.
	// Segment boundaries are byte-count-based, never format-aware.
	DefaultChunkBytes = 40 << 20

	// DefaultMaxAttempts bounds carrier calls per segment (1 + retries).
	DefaultMaxAttempts = 3
)

// Result is what a successful upload hands to the registry: either a single
// carrier object or an ordered, contiguous list of segments.
type Result struct {
	Kind  registry.Kind
	Parts []registry.Part
}

func (r *Result) TotalBytes() int64 {
	return registry.TotalBytes(r.Parts)
}

// Coordinator owns the upload path. Primary is the always-present size-capped
// store; Bulk is an optional higher-ceiling store tried for objects that fit
// under its ceiling but not Primary's.
type Coordinator struct {
	Primary       blobstore.Store
	Bulk          blobstore.Store
	ChunkBytes    int64
	MaxAttempts   uint64
	RetryInterval time.Duration
	Logger        logging.Logger
}

type session struct {
	id  string
	src *countingReader
}

type strategy struct {
	name    string
	attempt func(ctx context.Context, sess *session, sizeHint int64, name string) (*Result, error)
}

// Upload relays src to the carrier. The source is assumed non-seekable: a
// strategy that consumed any bytes cannot be followed by another, which is
// why stores reject oversized hints before reading (see blobstore.Store.Put).
func (c *Coordinator) Upload(ctx context.Context, src io.Reader, sizeHint int64, name string) (*Result, error) {
	sess := &session{id: uuid.NewString(), src: &countingReader{r: src}}
	var lastErr error
	for _, s := range c.strategies(sizeHint) {
		consumedBefore := sess.src.n
		res, err := s.attempt(ctx, sess, sizeHint, name)
		if err == nil {
			c.Logger.Info(ctx, "upload complete",
				"session", sess.id, "strategy", s.name, "parts", len(res.Parts), "bytes", res.TotalBytes())
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, blobstore.ErrCarrierRejected) && sess.src.n == consumedBefore {
			c.Logger.Info(ctx, "strategy rejected before consuming source, trying next",
				"session", sess.id, "strategy", s.name, "error", err)
			continue
		}
		break
	}
	if errors.Is(lastErr, blobstore.ErrCarrierRejected) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %w", ErrUploadFailed, lastErr)
}

func (c *Coordinator) strategies(sizeHint int64) []strategy {
	var out []strategy
	if sizeHint >= 0 && sizeHint <= c.Primary.MaxObjectBytes() {
		out = append(out, strategy{"single-primary", func(ctx context.Context, sess *session, hint int64, name string) (*Result, error) {
			return c.single(ctx, sess, c.Primary, hint, name)
		}})
	}
	if c.Bulk != nil && sizeHint >= 0 && sizeHint > c.Primary.MaxObjectBytes() && sizeHint <= c.Bulk.MaxObjectBytes() {
		out = append(out, strategy{"single-bulk", func(ctx context.Context, sess *session, hint int64, name string) (*Result, error) {
			return c.single(ctx, sess, c.Bulk, hint, name)
		}})
	}
	out = append(out, strategy{"chunked", c.chunked})
	return out
}

// single uploads the whole stream as one carrier object. Retries only apply
// while no source byte has been consumed; after that a failure is final.
func (c *Coordinator) single(ctx context.Context, sess *session, store blobstore.Store, sizeHint int64, name string) (*Result, error) {
	digest := xxhash.New()
	var ref blobstore.Ref
	op := func() error {
		consumedBefore := sess.src.n
		var err error
		ref, err = store.Put(ctx, io.TeeReader(sess.src, digest), sizeHint, name)
		if err == nil {
			return nil
		}
		if errors.Is(err, blobstore.ErrCarrierTransient) && sess.src.n == consumedBefore {
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, c.newBackOff(ctx)); err != nil {
		return nil, err
	}
	length := sess.src.n
	if ref.Size > 0 {
		length = ref.Size
	}
	return &Result{
		Kind: registry.KindSingle,
		Parts: []registry.Part{{
			Index:     0,
			Backend:   store.Name(),
			CarrierID: ref.CarrierID,
			Offset:    0,
			Length:    length,
			Checksum:  digest.Sum64(),
		}},
	}, nil
}

// chunked reads fixed-size segments and uploads each in strict order through
// the primary store. Each segment is buffered so a transient failure can be
// retried without rewinding the source; memory stays bounded by ChunkBytes.
func (c *Coordinator) chunked(ctx context.Context, sess *session, sizeHint int64, name string) (*Result, error) {
	chunkBytes := c.ChunkBytes
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	buf := make([]byte, chunkBytes)
	var parts []registry.Part
	var offset int64
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, readErr := io.ReadFull(sess.src, buf)
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("reading segment %d: %w", index, readErr)
		}
		if n == 0 && index > 0 {
			break
		}
		segment := buf[:n]
		segmentName := fmt.Sprintf("%s.part%04d", name, index)
		ref, err := c.putSegment(ctx, segment, segmentName)
		if err != nil {
			c.Logger.Error(ctx, "segment upload failed, aborting",
				"session", sess.id, "segment", index, "error", err)
			return nil, fmt.Errorf("uploading segment %d: %w", index, err)
		}
		parts = append(parts, registry.Part{
			Index:     index,
			Backend:   c.Primary.Name(),
			CarrierID: ref.CarrierID,
			Offset:    offset,
			Length:    int64(n),
			Checksum:  xxhash.Sum64(segment),
		})
		offset += int64(n)
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
	}
	kind := registry.KindComposite
	if len(parts) == 1 {
		kind = registry.KindSingle
	}
	return &Result{Kind: kind, Parts: parts}, nil
}

func (c *Coordinator) putSegment(ctx context.Context, segment []byte, name string) (blobstore.Ref, error) {
	var ref blobstore.Ref
	op := func() error {
		var err error
		ref, err = c.Primary.Put(ctx, bytes.NewReader(segment), int64(len(segment)), name)
		if err == nil {
			return nil
		}
		if errors.Is(err, blobstore.ErrCarrierTransient) {
			c.Logger.Warn(ctx, "transient segment failure, retrying", "segment", name, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(op, c.newBackOff(ctx))
	return ref, err
}

func (c *Coordinator) newBackOff(ctx context.Context) backoff.BackOff {
	maxAttempts := c.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	bo := backoff.NewExponentialBackOff()
	if c.RetryInterval > 0 {
		bo.InitialInterval = c.RetryInterval
	}
	return backoff.WithContext(backoff.WithMaxRetries(bo, maxAttempts-1), ctx)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
