package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ferryd/ferry/server/blobstore"
	"github.com/ferryd/ferry/server/chunker"
	"github.com/ferryd/ferry/server/config"
	"github.com/ferryd/ferry/server/delivery"
	"github.com/ferryd/ferry/server/logging"
	"github.com/ferryd/ferry/server/metrics"
	"github.com/ferryd/ferry/server/views"
)

// NewConfig returns the default config. Carriers and the registry are wired
// by the caller (config file loader or test harness).
func NewConfig() (*config.Config, error) {
	return &config.Config{
		MaxUploadBytes:          4 << 30,
		ChunkBytes:              chunker.DefaultChunkBytes,
		MaxMultipartMemoryBytes: 32 << 20,
		SourceHeaderTimeout:     30 * time.Second,
		Host:                    "127.0.0.1",
		Port:                    8080,
	}, nil
}

func addRoutes(
	mux *http.ServeMux,
	conf *config.Config,
	logger logging.Logger,
	coord *chunker.Coordinator,
	engine *delivery.Engine,
) {
	mux.HandleFunc("POST /upload", views.HandleUpload(conf, coord, logger))
	mux.HandleFunc("GET /download/{token}", views.HandleDownload(conf, engine, logger))
	mux.HandleFunc("GET /stream/{token}", views.HandleStream(conf, engine, logger))
	mux.HandleFunc("GET /healthz", views.HandleHealthz(logger))
	mux.Handle("GET /metrics", metrics.Handler())
}

func NewServer(
	logger logging.Logger,
	conf *config.Config,
) (http.Handler, error) {
	if errs := conf.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	coord := &chunker.Coordinator{
		Primary:    conf.PrimaryCarrier,
		Bulk:       conf.BulkCarrier,
		ChunkBytes: conf.ChunkBytes,
		Logger:     logger,
	}
	stores := []blobstore.Store{conf.PrimaryCarrier}
	if conf.BulkCarrier != nil {
		stores = append(stores, conf.BulkCarrier)
	}
	engine := delivery.New(conf.Registry, stores, logger)

	mux := http.NewServeMux()
	addRoutes(mux, conf, logger, coord, engine)
	var handler http.Handler = mux
	handler = logging.NewMiddleware(logger, handler)
	return handler, nil
}
