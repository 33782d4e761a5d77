package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrCarrierRejected means the carrier refused the operation for a
	// non-transient reason (oversize, bad credentials, unreachable chat).
	// Callers must not retry.
	ErrCarrierRejected = errors.New("carrier rejected request")

	// ErrCarrierTransient means the operation failed in a way that is worth
	// retrying a bounded number of times (network blip, throttling, 5xx).
	ErrCarrierTransient = errors.New("transient carrier error")

	// ErrObjectNotFound means the carrier has no record of the object.
	ErrObjectNotFound = errors.New("object not found")
)

// ByteRange is an inclusive byte window, matching HTTP range semantics.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

func (r ByteRange) String() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Ref is an opaque handle to one object stored with a carrier. CarrierID is
// only meaningful to the store that issued it.
type Ref struct {
	CarrierID string
	Size      int64
}

type Meta struct {
	Size int64
}

// Object is an open read of a stored object.
//
// EffectiveRange reports the byte window the carrier actually honored. It is
// nil when the caller requested a range but the carrier returned the full
// object; the caller must then slice in software. Callers must not assume a
// requested range was honored.
type Object struct {
	Body           io.ReadCloser
	EffectiveRange *ByteRange
	TotalSize      int64
}

// Store is the capability interface over an external blob carrier with a hard
// per-object size ceiling.
type Store interface {
	// Name identifies the backend ("telegram", "s3", ...). It is persisted
	// alongside refs so delivery can route each ref back to its store.
	Name() string

	// MaxObjectBytes is the per-object ceiling for this store.
	MaxObjectBytes() int64

	// Put streams r to the carrier until exhaustion and returns a ref.
	// sizeHint is the expected total size, or -1 if unknown. Stores must
	// reject a hint above their ceiling with ErrCarrierRejected before
	// reading any bytes, so that callers can fall back to another strategy
	// with the source intact. Put must not buffer the whole object.
	Put(ctx context.Context, r io.Reader, sizeHint int64, name string) (Ref, error)

	// Stat returns object metadata, or ErrObjectNotFound.
	Stat(ctx context.Context, ref Ref) (Meta, error)

	// Open streams the object back, optionally limited to rng.
	Open(ctx context.Context, ref Ref, rng *ByteRange) (*Object, error)

	// Validate returns a list of errors if the store's configuration is invalid.
	Validate() []string
}
