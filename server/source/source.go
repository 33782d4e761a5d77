// Package source normalizes inbound byte sources (multipart uploads, remote
// URLs) into one producer shape for the upload path.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

var (
	// ErrUnavailable means the source could not produce its first byte:
	// bad URL, non-success upstream status, or a header timeout.
	ErrUnavailable = errors.New("source unavailable")

	// ErrTooLarge means the source declared a size over the configured
	// ceiling. Raised before any body byte is read, so oversized transfers
	// cost nothing.
	ErrTooLarge = errors.New("source too large")
)

// Source is a single consumable byte stream. SizeHint is the declared total
// size, or -1 when unknown until the stream is exhausted.
type Source struct {
	Body     io.ReadCloser
	Name     string
	SizeHint int64
}

func (s *Source) Close() error {
	return s.Body.Close()
}

// FromMultipart adapts one uploaded form file. Multipart sizes are exact.
func FromMultipart(fileHeader *multipart.FileHeader, maxBytes int64) (*Source, error) {
	if maxBytes > 0 && fileHeader.Size > maxBytes {
		return nil, fmt.Errorf("declared size %d over limit %d: %w", fileHeader.Size, maxBytes, ErrTooLarge)
	}
	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("opening form file: %w", err)
	}
	name := fileHeader.Filename
	if name == "" {
		name = "file"
	}
	return &Source{Body: file, Name: name, SizeHint: fileHeader.Size}, nil
}

// FromURL starts a streaming GET of rawURL. The client should bound the wait
// for response headers (see NewHTTPClient); once the body is streaming no
// overall deadline applies.
func FromURL(ctx context.Context, client *http.Client, rawURL string, maxBytes int64) (*Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid source URL %q: %w", rawURL, ErrUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching source: %w: %w", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("source returned %d: %w", resp.StatusCode, ErrUnavailable)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		resp.Body.Close()
		return nil, fmt.Errorf("declared size %d over limit %d: %w", resp.ContentLength, maxBytes, ErrTooLarge)
	}
	return &Source{
		Body:     resp.Body,
		Name:     nameFromURL(u),
		SizeHint: resp.ContentLength,
	}, nil
}

// NewHTTPClient builds the client used for remote sources: bounded wait for
// upstream headers, unbounded body transfer.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: headerTimeout,
		},
	}
}

func nameFromURL(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." || strings.ContainsAny(name, "\x00") {
		return "file"
	}
	return name
}
