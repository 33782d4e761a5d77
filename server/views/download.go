package views

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ferryd/ferry/server/config"
	"github.com/ferryd/ferry/server/delivery"
	"github.com/ferryd/ferry/server/logging"
	"github.com/ferryd/ferry/server/media"
	"github.com/ferryd/ferry/server/metrics"
)

// HandleDownload serves the referenced bytes as an attachment.
func HandleDownload(conf *config.Config, engine *delivery.Engine, logger logging.Logger) http.HandlerFunc {
	return handleDelivery(engine, logger, true)
}

// HandleStream serves the referenced bytes inline with a playable content
// type, for direct use in media players and browsers.
func HandleStream(conf *config.Config, engine *delivery.Engine, logger logging.Logger) http.HandlerFunc {
	return handleDelivery(engine, logger, false)
}

func handleDelivery(engine *delivery.Engine, logger logging.Logger, attachment bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.PathValue("token")
		d, err := engine.Open(r.Context(), token, r.Header.Get("Range"))
		if err != nil {
			openError(w, r, logger, token, err)
			return
		}
		defer d.Body.Close()

		filename := SanitizeFilename(d.Filename)
		if q := r.URL.Query().Get("filename"); q != "" {
			filename = SanitizeFilename(q)
		}

		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("ETag", d.ETag)
		w.Header().Set("Content-Length", strconv.FormatInt(d.ContentLength(), 10))
		if attachment {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		} else {
			w.Header().Set("Content-Type", media.Classify(filename).ContentType)
			w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
		}
		if d.Status == http.StatusPartialContent {
			w.Header().Set("Content-Range", d.ContentRange())
		}
		w.WriteHeader(d.Status)
		metrics.DeliveriesTotal.WithLabelValues(strconv.Itoa(d.Status)).Inc()

		n, err := io.Copy(w, d.Body)
		metrics.DeliveredBytes.Add(float64(n))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info(r.Context(), "client went away mid-delivery", "token", token, "written", n)
				return
			}
			logger.Error(r.Context(), "delivery aborted mid-stream", "token", token, "written", n, "error", err)
			// The status line and headers are already out; tearing down the
			// connection is the only remaining way to signal failure.
			panic(http.ErrAbortHandler)
		}
	}
}

func openError(w http.ResponseWriter, r *http.Request, logger logging.Logger, token string, err error) {
	var rangeErr *delivery.RangeNotSatisfiableError
	switch {
	case errors.Is(err, delivery.ErrReferenceNotFound):
		metrics.DeliveriesTotal.WithLabelValues("404").Inc()
		userError{http.StatusNotFound, "not_found", "no file for this token"}.output(w)
	case errors.As(err, &rangeErr):
		metrics.DeliveriesTotal.WithLabelValues("416").Inc()
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", rangeErr.TotalSize))
		userError{http.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable", "requested range is outside the file"}.output(w)
	default:
		metrics.DeliveriesTotal.WithLabelValues("500").Inc()
		logger.Error(r.Context(), "opening delivery", "token", token, "error", err)
		userError{http.StatusInternalServerError, "internal", "internal server error"}.output(w)
	}
}
