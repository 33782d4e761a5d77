package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FilesystemStore keeps objects as flat files under Root. It is meant for dev
// mode and tests; it honors byte ranges natively via seeking.
type FilesystemStore struct {
	Root     string
	MaxBytes int64
}

func (s *FilesystemStore) Name() string {
	return "fs"
}

func (s *FilesystemStore) MaxObjectBytes() int64 {
	return s.MaxBytes
}

func (s *FilesystemStore) Put(ctx context.Context, r io.Reader, sizeHint int64, name string) (Ref, error) {
	if sizeHint > s.MaxBytes {
		return Ref{}, fmt.Errorf("size hint %d over ceiling %d: %w", sizeHint, s.MaxBytes, ErrCarrierRejected)
	}
	id := uuid.NewString()
	path := filepath.Join(s.Root, id)
	file, err := os.Create(path)
	if err != nil {
		return Ref{}, fmt.Errorf("creating file: %w", err)
	}
	defer file.Close()

	// Enforce the ceiling even when the hint lied or was unknown.
	n, err := io.Copy(file, io.LimitReader(r, s.MaxBytes+1))
	if err != nil {
		os.Remove(path)
		return Ref{}, fmt.Errorf("copying to file: %w", err)
	}
	if n > s.MaxBytes {
		os.Remove(path)
		return Ref{}, fmt.Errorf("object over ceiling %d: %w", s.MaxBytes, ErrCarrierRejected)
	}
	return Ref{CarrierID: id, Size: n}, nil
}

func (s *FilesystemStore) Stat(ctx context.Context, ref Ref) (Meta, error) {
	info, err := os.Stat(filepath.Join(s.Root, ref.CarrierID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Meta{}, ErrObjectNotFound
		}
		return Meta{}, fmt.Errorf("stat: %w", err)
	}
	return Meta{Size: info.Size()}, nil
}

func (s *FilesystemStore) Open(ctx context.Context, ref Ref, rng *ByteRange) (*Object, error) {
	file, err := os.Open(filepath.Join(s.Root, ref.CarrierID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat: %w", err)
	}
	if rng == nil {
		return &Object{Body: file, TotalSize: info.Size()}, nil
	}
	if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("seeking to %d: %w", rng.Start, err)
	}
	return &Object{
		Body:           newLimitedFile(file, rng.Length()),
		EffectiveRange: rng,
		TotalSize:      info.Size(),
	}, nil
}

func (s *FilesystemStore) Validate() []string {
	var errs []string
	if s.Root == "" {
		errs = append(errs, "Root must not be empty")
	}
	if s.MaxBytes <= 0 {
		errs = append(errs, "MaxBytes must be greater than 0")
	}
	return errs
}

type limitedFile struct {
	io.Reader
	file *os.File
}

func newLimitedFile(file *os.File, n int64) *limitedFile {
	return &limitedFile{Reader: io.LimitReader(file, n), file: file}
}

func (l *limitedFile) Close() error {
	return l.file.Close()
}
