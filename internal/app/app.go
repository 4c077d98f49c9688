package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vk/patchgridgo/internal/config"
	"github.com/vk/patchgridgo/internal/ctxlog"
	"github.com/vk/patchgridgo/internal/imagery"
	"github.com/vk/patchgridgo/internal/metrics"
	"github.com/vk/patchgridgo/internal/sentinel"
	"github.com/vk/patchgridgo/internal/sink/fs"
	"github.com/vk/patchgridgo/internal/sink/s3"
)

// App encapsulates the pipeline's dependencies, configuration and lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	config  *config.Config
	metrics *metrics.Metrics
	now     func() time.Time

	catalog   imagery.Catalog
	retriever imagery.Retriever
	sink      imagery.Sink

	httpServer *http.Server
	serverAddr string
}

// Option configures an App.
type Option func(*App)

// WithCatalog replaces the Sentinel Hub catalog.
func WithCatalog(c imagery.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithRetriever replaces the Sentinel Hub process client.
func WithRetriever(r imagery.Retriever) Option {
	return func(a *App) { a.retriever = r }
}

// WithSink replaces the sink selected by the storage configuration.
func WithSink(s imagery.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithClock sets the time source used to resolve relative time windows.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New creates an App logging to outW. The configuration must be valid.
func New(outW io.Writer, cfg *config.Config, opts ...Option) *App {
	a := &App{
		outW:    outW,
		logger:  newLogger(cfg.LogLevel, cfg.LogFormat, outW),
		config:  cfg,
		metrics: metrics.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger.Debug("Logger configured successfully.")
	return a
}

// Logger returns the console logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Metrics returns the collectors of the app.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// context attaches the app logger to ctx.
func (a *App) context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}

// ensureSentinel builds the Sentinel Hub clients for the collaborators that
// were not injected.
func (a *App) ensureSentinel(ctx context.Context) error {
	if a.catalog != nil && a.retriever != nil {
		return nil
	}
	s := a.config.Sentinel
	client, err := sentinel.NewClient(ctx, sentinel.Config{
		ClientID:          s.ClientID,
		ClientSecret:      s.ClientSecret,
		TokenURL:          s.TokenURL,
		BaseURL:           s.BaseURL,
		Collection:        a.config.Acquisition.Collection,
		RequestsPerSecond: s.RequestsPerSecond,
		MaxInFlight:       s.MaxInFlight,
	}, sentinel.WithMetrics(a.metrics))
	if err != nil {
		return fmt.Errorf("failed to create Sentinel Hub client: %w", err)
	}
	if a.catalog == nil {
		a.catalog = client.Catalog()
	}
	if a.retriever == nil {
		a.retriever = client.Process()
	}
	return nil
}

// ensureSink builds the sink selected by the storage configuration unless
// one was injected.
func (a *App) ensureSink(ctx context.Context) error {
	if a.sink != nil {
		return nil
	}
	st := a.config.Storage
	switch st.Kind {
	case config.StorageS3:
		client, err := s3.NewClient(ctx, s3.Config{
			Region:       st.Region,
			Endpoint:     st.Endpoint,
			AccessKey:    st.AccessKey,
			SecretKey:    st.SecretKey,
			UsePathStyle: st.PathStyle,
		})
		if err != nil {
			return err
		}
		sink, err := s3.New(client, st.Bucket, st.Prefix, s3.WithMetrics(a.metrics))
		if err != nil {
			return err
		}
		if err := sink.EnsureBucket(ctx); err != nil {
			return err
		}
		a.sink = sink
	default:
		sink, err := fs.New(a.config.OutputDir, fs.WithMetrics(a.metrics))
		if err != nil {
			return err
		}
		a.sink = sink
	}
	return nil
}
