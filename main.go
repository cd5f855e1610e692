// main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/karlseguin/ccache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/geoplex/cogrange/cog"
)

const appName = "cogrange-server"

var (
	httpTileServer    *http.Server
	httpMetricsServer *http.Server

	tileRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cogrange_tile_requests_total",
		Help: "Tile requests served, by status.",
	}, []string{"status"})
	tileLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cogrange_tile_request_seconds",
		Help:    "Tile request latency.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.3, 0.6, 1, 3},
	})
	chunkFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cogrange_chunk_fetches_total",
		Help: "Range reads issued to the backing store.",
	})
	chunkBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cogrange_chunk_fetch_bytes_total",
		Help: "Bytes fetched from the backing store.",
	})
)

// Config holds all configuration for the application, loaded from
// environment variables.
type Config struct {
	LogLevel          string `env:"LOG_LEVEL" envDefault:"INFO"`
	HTTPPort          int    `env:"HTTP_PORT" envDefault:"8080"`
	HTTPMetricsPort   int    `env:"METRICS_PORT" envDefault:"8888"`
	CogSource         string `env:"COG_SOURCE,required"`
	ChunkSize         uint64 `env:"CHUNK_SIZE" envDefault:"65536"`
	CacheMaxSize      int64  `env:"CACHE_MAX_SIZE" envDefault:"1024"`
	CacheItemsToPrune uint32 `env:"CACHE_ITEMS_TO_PRUNE" envDefault:"100"`
	CacheTTL          int    `env:"CACHE_TTL_SECONDS" envDefault:"600"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		fmt.Printf("failed to parse config: %+v\n", err)
		os.Exit(1)
	}

	logger := createLogger(cfg, appName)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	reader, err := setupReader(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize COG reader, shutting down", "error", err)
		os.Exit(1)
	}

	// HTTP Metrics Server (Prometheus)
	g.Go(func() error {
		return startMetricsServer(logger, cfg)
	})

	// HTTP Tile Server
	g.Go(func() error {
		return startTileServer(logger, cfg, reader)
	})

	select {
	case <-interrupt:
		slog.Warn("received termination signal, starting graceful shutdown")
		cancel()
	case <-ctx.Done():
		slog.Warn("context cancelled, starting graceful shutdown")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpMetricsServer != nil {
		if err := httpMetricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP metrics server shutdown error", "error", err)
		}
	}
	if httpTileServer != nil {
		if err := httpTileServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP tile server shutdown error", "error", err)
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server group returned an error", "error", err)
		os.Exit(2)
	}
}

// countingStore wraps a cog.Store and feeds the fetch metrics.
type countingStore struct {
	cog.Store
}

func (s *countingStore) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	chunkFetches.Inc()
	chunkBytes.Add(float64(length))
	return s.Store.ReadRange(ctx, offset, length)
}

func setupReader(ctx context.Context, cfg Config, logger *slog.Logger) (*cog.Cog, error) {
	logger.Info("initializing COG reader", "source", cfg.CogSource, "chunk_size", cfg.ChunkSize)

	var store cog.Store
	if strings.HasPrefix(cfg.CogSource, "http") {
		s, err := cog.NewHTTPStore(ctx, cfg.CogSource, nil) // Using default client
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP store for COG: %w", err)
		}
		store = s
	} else {
		s, err := cog.NewFileStore(cfg.CogSource)
		if err != nil {
			return nil, fmt.Errorf("failed to open local COG file: %w", err)
		}
		store = s
	}

	source, err := cog.NewSource(&countingStore{Store: store}, cfg.ChunkSize, logger)
	if err != nil {
		return nil, err
	}

	reader := cog.New(source)
	if err := reader.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to parse COG: %w", err)
	}
	logger.Info("COG ready",
		"images", len(reader.Images()),
		"chunks_resident", source.NumChunks(),
	)
	return reader, nil
}

func startMetricsServer(logger *slog.Logger, cfg Config) error {
	addr := fmt.Sprintf(":%d", cfg.HTTPMetricsPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	httpMetricsServer = &http.Server{Addr: addr, Handler: mux}
	logger.Info("HTTP metrics server listening", "address", addr)

	if err := httpMetricsServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP metrics server failed: %w", err)
	}
	return nil
}

func startTileServer(logger *slog.Logger, cfg Config, reader *cog.Cog) error {
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)

	tileCache := ccache.New(ccache.Configure[*cog.Tile]().
		MaxSize(cfg.CacheMaxSize).
		ItemsToPrune(cfg.CacheItemsToPrune))
	ttl := time.Duration(cfg.CacheTTL) * time.Second

	mux := http.NewServeMux()
	mux.HandleFunc("/tiles/", tileHandler(reader, tileCache, ttl))
	mux.HandleFunc("/info", infoHandler(reader))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpTileServer = &http.Server{Addr: addr, Handler: mux}
	logger.Info("HTTP tile server listening", "address", addr)

	if err := httpTileServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP tile server failed: %w", err)
	}
	return nil
}

// tileHandler serves GET /tiles/{z}/{x}/{y} with the raw compressed tile
// payload. z indexes the IFD chain: 0 is the full-resolution image.
func tileHandler(reader *cog.Cog, cache *ccache.Cache[*cog.Tile], ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() { tileLatency.Observe(time.Since(start).Seconds()) }()

		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/tiles/"), "/")
		if len(parts) != 3 {
			tileRequests.WithLabelValues("bad_request").Inc()
			http.Error(w, "expected /tiles/{z}/{x}/{y}", http.StatusBadRequest)
			return
		}
		z, errZ := strconv.Atoi(parts[0])
		x, errX := strconv.Atoi(parts[1])
		y, errY := strconv.Atoi(parts[2])
		if errZ != nil || errX != nil || errY != nil {
			tileRequests.WithLabelValues("bad_request").Inc()
			http.Error(w, "tile coordinates must be integers", http.StatusBadRequest)
			return
		}

		key := fmt.Sprintf("%d/%d/%d", z, x, y)
		var tile *cog.Tile
		if item := cache.Get(key); item != nil && !item.Expired() {
			tile = item.Value()
		} else {
			t, err := reader.TileRaw(r.Context(), x, y, z)
			if err != nil {
				writeTileError(w, err)
				return
			}
			cache.Set(key, t, ttl)
			tile = t
		}

		tileRequests.WithLabelValues("ok").Inc()
		if tile.MediaType != "" && tile.MediaType != "none" {
			w.Header().Set("Content-Type", tile.MediaType)
		} else {
			w.Header().Set("Content-Type", "application/octet-stream")
		}
		w.Write(tile.Bytes)
	}
}

func writeTileError(w http.ResponseWriter, err error) {
	var overview *cog.NoSuchOverviewError
	var outOfRange *cog.TileOutOfRangeError
	switch {
	case errors.As(err, &overview), errors.As(err, &outOfRange):
		tileRequests.WithLabelValues("not_found").Inc()
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, cog.ErrNotTiled):
		tileRequests.WithLabelValues("bad_request").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		tileRequests.WithLabelValues("error").Inc()
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// infoHandler reports the source and per-overview geometry as JSON.
func infoHandler(reader *cog.Cog) http.HandlerFunc {
	type imageInfo struct {
		ID        int       `json:"id"`
		Width     uint32    `json:"width"`
		Height    uint32    `json:"height"`
		TileW     uint32    `json:"tile_width,omitempty"`
		TileH     uint32    `json:"tile_height,omitempty"`
		TilesX    int       `json:"tiles_x,omitempty"`
		TilesY    int       `json:"tiles_y,omitempty"`
		MediaType string    `json:"media_type,omitempty"`
		BBox      []float64 `json:"bbox,omitempty"`
		Tags      []string  `json:"tags"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		src := reader.Source()
		images := make([]imageInfo, 0, len(reader.Images()))
		for _, img := range reader.Images() {
			info := imageInfo{ID: img.ID(), Tags: img.TagNames()}
			info.Width, info.Height, _ = img.Size()
			info.TileW, info.TileH, _ = img.TileSize()
			info.TilesX, info.TilesY, _ = img.TileGrid()
			info.MediaType, _ = img.MediaType()
			if bounds, err := img.Bounds(r.Context()); err == nil {
				info.BBox = []float64{bounds.Min[0], bounds.Min[1], bounds.Max[0], bounds.Max[1]}
			}
			images = append(images, info)
		}

		response := map[string]any{
			"source":     src.Name(),
			"size":       src.Size(),
			"version":    src.Version(),
			"chunk_size": src.ChunkSize(),
			"chunks":     src.NumChunks(),
			"images":     images,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

func createLogger(cfg Config, appName string) *slog.Logger {
	var programLevel slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		programLevel = slog.LevelDebug
	case "INFO":
		programLevel = slog.LevelInfo
	case "WARN":
		programLevel = slog.LevelWarn
	case "ERROR":
		programLevel = slog.LevelError
	default:
		programLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     programLevel,
		AddSource: programLevel <= slog.LevelDebug,
	}).WithAttrs([]slog.Attr{slog.String("app", appName)})
	return slog.New(handler)
}
