package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/ferryd/ferry/server/blobstore"
	"github.com/ferryd/ferry/server/registry"
)

type Config struct {
	// Carrier wiring. PrimaryCarrier is the size-capped store every upload
	// can reach; BulkCarrier is an optional higher-ceiling store tried for
	// objects that fit under its ceiling but not the primary's.
	PrimaryCarrier blobstore.Store
	BulkCarrier    blobstore.Store
	Registry       registry.Registry

	// MaxUploadBytes is the largest logical object the service accepts,
	// across all strategies including chunking.
	MaxUploadBytes int64
	// ChunkBytes is the segment size for oversized objects.
	ChunkBytes              int64
	MaxMultipartMemoryBytes int64
	// SourceHeaderTimeout bounds the wait for a remote source's response
	// headers. Body transfer is never deadlined.
	SourceHeaderTimeout time.Duration
	// PublicBaseURL overrides the request Host when building download and
	// stream URLs. When nil, URLs are derived per request from
	// X-Forwarded-Proto and Host.
	PublicBaseURL *url.URL

	Host string
	Port uint

	// Runtime options, cannot be set via config.
	DevMode bool
	Version string
}

func (conf *Config) Validate() []string {
	var errs []string
	if conf.PrimaryCarrier == nil {
		errs = append(errs, "PrimaryCarrier must not be nil")
	} else {
		errs = append(errs, conf.PrimaryCarrier.Validate()...)
	}
	if conf.BulkCarrier != nil {
		errs = append(errs, conf.BulkCarrier.Validate()...)
		if conf.PrimaryCarrier != nil && conf.BulkCarrier.MaxObjectBytes() <= conf.PrimaryCarrier.MaxObjectBytes() {
			errs = append(errs, "BulkCarrier ceiling must exceed PrimaryCarrier ceiling")
		}
	}
	if conf.Registry == nil {
		errs = append(errs, "Registry must not be nil")
	}
	if conf.MaxUploadBytes <= 0 {
		errs = append(errs, "MaxUploadBytes must be greater than 0")
	}
	if conf.ChunkBytes <= 0 {
		errs = append(errs, "ChunkBytes must be greater than 0")
	}
	if conf.PrimaryCarrier != nil && conf.ChunkBytes > conf.PrimaryCarrier.MaxObjectBytes() {
		errs = append(errs, "ChunkBytes must not exceed the PrimaryCarrier ceiling")
	}
	if conf.MaxMultipartMemoryBytes <= 0 {
		errs = append(errs, "MaxMultipartMemoryBytes must be greater than 0")
	}
	if conf.SourceHeaderTimeout <= 0 {
		errs = append(errs, "SourceHeaderTimeout must be greater than 0")
	}
	if conf.PublicBaseURL != nil && strings.HasSuffix(conf.PublicBaseURL.Path, "/") {
		errs = append(errs, "PublicBaseURL must not end with a slash")
	}
	if conf.Version == "" {
		errs = append(errs, "Version must not be empty")
	}
	return errs
}

// DownloadURL builds the public download URL for a token.
func (conf *Config) DownloadURL(base *url.URL, token, filename string) *url.URL {
	return endpointURL(base, "/download/", token, filename)
}

// StreamURL builds the public stream URL for a token.
func (conf *Config) StreamURL(base *url.URL, token, filename string) *url.URL {
	return endpointURL(base, "/stream/", token, filename)
}

func endpointURL(base *url.URL, prefix, token, filename string) *url.URL {
	u := *base
	u.Path = strings.TrimSuffix(u.Path, "/") + prefix + token
	if filename != "" {
		u.RawQuery = url.Values{"filename": []string{filename}}.Encode()
	}
	return &u
}
