package views

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ferryd/ferry/server/blobstore"
	"github.com/ferryd/ferry/server/chunker"
	"github.com/ferryd/ferry/server/config"
	"github.com/ferryd/ferry/server/logging"
	"github.com/ferryd/ferry/server/media"
	"github.com/ferryd/ferry/server/metrics"
	"github.com/ferryd/ferry/server/source"
	"github.com/ferryd/ferry/server/utils"
)

type uploadRequest struct {
	FileURL string `json:"file_url"`
}

type uploadResponse struct {
	Success     bool   `json:"success"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	DownloadURL string `json:"download_url"`
	StreamURL   string `json:"stream_url,omitempty"`
}

func HandleUpload(conf *config.Config, coord *chunker.Coordinator, logger logging.Logger) http.HandlerFunc {
	sourceClient := source.NewHTTPClient(conf.SourceHeaderTimeout)
	return func(w http.ResponseWriter, r *http.Request) {
		src, uerr := openSource(r, conf, sourceClient)
		if uerr != nil {
			metrics.UploadsTotal.WithLabelValues("rejected").Inc()
			logger.Info(r.Context(), "upload rejected", "code", uerr.code, "error", uerr.message)
			uerr.output(w)
			return
		}
		defer src.Close()

		body := io.Reader(src.Body)
		if src.SizeHint < 0 {
			// Unknown-size streams bypass the declared-size checks, so the
			// ceiling has to be enforced while reading.
			body = &cappedReader{r: src.Body, remaining: conf.MaxUploadBytes}
		}

		result, err := coord.Upload(r.Context(), body, src.SizeHint, src.Name)
		if err != nil {
			metrics.UploadsTotal.WithLabelValues("failed").Inc()
			logger.Error(r.Context(), "upload failed", "filename", src.Name, "error", err)
			uploadError(conf, err).output(w)
			return
		}

		token, err := conf.Registry.Register(r.Context(), result.Kind, src.Name, result.Parts)
		if err != nil {
			metrics.UploadsTotal.WithLabelValues("failed").Inc()
			logger.Error(r.Context(), "registering upload", "filename", src.Name, "error", err)
			userError{http.StatusInternalServerError, "internal", "internal server error"}.output(w)
			return
		}

		metrics.UploadsTotal.WithLabelValues("ok").Inc()
		metrics.UploadedBytes.Add(float64(result.TotalBytes()))
		logger.Info(r.Context(), "upload registered",
			"token", token, "filename", src.Name, "bytes", result.TotalBytes(), "parts", len(result.Parts))

		base := requestBaseURL(r, conf)
		name := SanitizeFilename(src.Name)
		resp := uploadResponse{
			Success:     true,
			FileName:    name,
			FileSize:    result.TotalBytes(),
			DownloadURL: conf.DownloadURL(base, token, name).String(),
		}
		if media.Classify(name).Streamable() {
			resp.StreamURL = conf.StreamURL(base, token, name).String()
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(resp)
	}
}

// openSource picks the inbound byte source: a multipart "file" part, a
// multipart "file_url" field, or a JSON body with file_url.
func openSource(r *http.Request, conf *config.Config, client *http.Client) (*source.Source, *userError) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(conf.MaxMultipartMemoryBytes); err != nil {
			return nil, &userError{http.StatusBadRequest, "no_source", fmt.Sprintf("parsing multipart form: %v", err)}
		}
		if files := r.MultipartForm.File["file"]; len(files) > 0 {
			src, err := source.FromMultipart(files[0], conf.MaxUploadBytes)
			return src, sourceError(conf, err)
		}
		if urls := r.MultipartForm.Value["file_url"]; len(urls) > 0 && urls[0] != "" {
			src, err := source.FromURL(r.Context(), client, urls[0], conf.MaxUploadBytes)
			return src, sourceError(conf, err)
		}
		return nil, &userError{http.StatusBadRequest, "no_source", `provide a "file" part or a "file_url" field`}
	}

	var req uploadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		return nil, &userError{http.StatusBadRequest, "no_source", fmt.Sprintf("parsing request body: %v", err)}
	}
	if req.FileURL == "" {
		return nil, &userError{http.StatusBadRequest, "no_source", "file_url must not be empty"}
	}
	src, err := source.FromURL(r.Context(), client, req.FileURL, conf.MaxUploadBytes)
	return src, sourceError(conf, err)
}

func sourceError(conf *config.Config, err error) *userError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, source.ErrTooLarge):
		return &userError{http.StatusRequestEntityTooLarge, "source_too_large",
			fmt.Sprintf("file exceeds the maximum size of %s", utils.FormatBytes(conf.MaxUploadBytes))}
	case errors.Is(err, source.ErrUnavailable):
		return &userError{http.StatusBadRequest, "source_unavailable", err.Error()}
	default:
		return &userError{http.StatusInternalServerError, "internal", "internal server error"}
	}
}

func uploadError(conf *config.Config, err error) userError {
	switch {
	case errors.Is(err, source.ErrTooLarge):
		return userError{http.StatusRequestEntityTooLarge, "source_too_large",
			fmt.Sprintf("file exceeds the maximum size of %s", utils.FormatBytes(conf.MaxUploadBytes))}
	case errors.Is(err, blobstore.ErrCarrierRejected):
		return userError{http.StatusBadGateway, "carrier_rejected", "the storage carrier rejected this file"}
	case errors.Is(err, chunker.ErrUploadFailed):
		return userError{http.StatusBadGateway, "upload_failed", "relaying the file to storage failed"}
	default:
		return userError{http.StatusInternalServerError, "internal", "internal server error"}
	}
}

// requestBaseURL derives the base for download and stream URLs. Behind a
// reverse proxy, X-Forwarded-Proto restores the original scheme.
func requestBaseURL(r *http.Request, conf *config.Config) *url.URL {
	if conf.PublicBaseURL != nil {
		return conf.PublicBaseURL
	}
	scheme := "http"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS != nil {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: r.Host}
}

// cappedReader fails the stream once more than remaining bytes have been
// read, reporting the overflow as a size error.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, fmt.Errorf("stream exceeded upload ceiling: %w", source.ErrTooLarge)
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if err == nil && c.remaining < 0 {
		err = fmt.Errorf("stream exceeded upload ceiling: %w", source.ErrTooLarge)
	}
	return n, err
}
