// Package app wires configuration, the replay source, its sink and the
// status servers into one runnable replay.
package app

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arkilian/taxistream/internal/config"
	"github.com/arkilian/taxistream/internal/logging"
	"github.com/arkilian/taxistream/internal/observability"
	"github.com/arkilian/taxistream/internal/replay"
	"github.com/arkilian/taxistream/internal/server"
	"github.com/arkilian/taxistream/internal/sink"
	"github.com/arkilian/taxistream/internal/storage"
	"github.com/arkilian/taxistream/internal/table"
	"github.com/arkilian/taxistream/internal/tracing"
)

// App runs one replay.
type App struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	stats  *observability.ReplayStats

	// dataStore fetches s3:// data files; nil means S3 with the configured region.
	dataStore storage.ObjectStorage
	replayOps []replay.Option

	mu      sync.Mutex
	running bool
	addrs   map[string]string
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the root logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(a *App) { a.logger = l }
}

// WithDataStore replaces the store remote data files are fetched from.
func WithDataStore(s storage.ObjectStorage) Option {
	return func(a *App) { a.dataStore = s }
}

// WithReplayOptions passes extra options to the replay source.
func WithReplayOptions(opts ...replay.Option) Option {
	return func(a *App) { a.replayOps = append(a.replayOps, opts...) }
}

// New resolves and validates cfg and creates the local directories it names.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	a := &App{
		cfg:   cfg,
		stats: observability.NewReplayStats(),
		addrs: make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.G()
	}
	return a, nil
}

// Stats returns the progress counters of the replay.
func (a *App) Stats() *observability.ReplayStats { return a.stats }

// Addr returns the bound address of the "http" or "grpc" status server once
// it is listening.
func (a *App) Addr(name string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addrs[name]
}

// Run replays the data file into the configured sink and returns when the
// stream ends, ctx is cancelled or a component fails. Everything opened is
// closed before Run returns.
func (a *App) Run(ctx context.Context) (err error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	shutdown := server.NewShutdownManager(server.ShutdownConfig{Logger: a.logger})
	defer func() {
		if serr := shutdown.Shutdown(context.Background(), "replay finished"); serr != nil && err == nil {
			err = serr
		}
	}()

	flush, err := tracing.Setup(ctx, a.cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	shutdown.RegisterCloser("tracing", server.CloserFunc(func() error {
		return flush(context.Background())
	}))

	store, err := storage.Open(ctx, a.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	dataFile, err := a.resolveDataFile(ctx)
	if err != nil {
		return err
	}

	replayOpts := append([]replay.Option{
		replay.WithLogger(logging.Named(a.logger, "replay")),
		replay.WithObserver(a.stats),
	}, a.replayOps...)
	src, err := table.New(a.cfg.ReplayConfig(dataFile), replayOpts...)
	if err != nil {
		return err
	}

	snk, err := sink.Open(ctx, a.cfg.Sink, store,
		sink.WithLogger(a.logger),
		sink.WithFlushObserver(a.stats),
	)
	if err != nil {
		return fmt.Errorf("failed to open sink: %w", err)
	}
	shutdown.RegisterCloser("sink", snk)

	status := server.NewStatus(server.StatusConfig{
		Stats:    a.stats,
		Table:    src.ExplainSource(),
		Schema:   src.TableSchema(),
		Shutdown: shutdown,
		Logger:   a.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	if err := a.listen(serveCtx, g, "http", a.cfg.Status.HTTPAddr, status.ServeHTTP); err != nil {
		stopServing()
		_ = g.Wait()
		return err
	}
	if err := a.listen(serveCtx, g, "grpc", a.cfg.Status.GRPCAddr, status.ServeGRPC); err != nil {
		stopServing()
		_ = g.Wait()
		return err
	}

	g.Go(func() error {
		defer stopServing()
		status.SetServing(true)
		defer status.SetServing(false)

		a.logger.Infow("replay starting",
			"data_file", dataFile,
			"sink", a.cfg.Sink.Type,
			"max_event_delay_secs", a.cfg.Source.MaxEventDelaySecs,
			"serving_speed_factor", a.cfg.Source.ServingSpeedFactor,
		)
		if err := src.Run(gctx, &finishNotifier{RowSink: snk, onFinish: a.stats.MarkFinished}); err != nil {
			return err
		}
		snap := a.stats.Snapshot()
		a.logger.Infow("replay stopped",
			"finished", snap.Finished,
			"emitted", snap.Emitted,
			"skipped", snap.Skipped,
			"partitions", snap.Partitions,
		)
		return nil
	})

	return g.Wait()
}

func (a *App) listen(ctx context.Context, g *errgroup.Group, name, addr string, serve func(context.Context, net.Listener) error) error {
	if addr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s for %s status: %w", addr, name, err)
	}
	a.mu.Lock()
	a.addrs[name] = lis.Addr().String()
	a.mu.Unlock()
	g.Go(func() error { return serve(ctx, lis) })
	return nil
}

// resolveDataFile downloads s3:// data files into the cache directory and
// returns the local path.
func (a *App) resolveDataFile(ctx context.Context) (string, error) {
	bucket, key, ok := storage.ParseS3URI(a.cfg.Source.DataFile)
	if !ok {
		return a.cfg.Source.DataFile, nil
	}

	store := a.dataStore
	if store == nil {
		s3cfg := a.cfg.Storage.S3
		s3cfg.Bucket = bucket
		s3store, err := storage.NewS3Storage(ctx, s3cfg)
		if err != nil {
			return "", err
		}
		store = s3store
	}

	fetcher := storage.NewFetcher(store, a.cfg.Source.CacheDir, bucket, 1)
	local, err := fetcher.Fetch(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", a.cfg.Source.DataFile, err)
	}
	a.logger.Infow("data file fetched", "uri", a.cfg.Source.DataFile, "path", local)
	return local, nil
}

// finishNotifier calls onFinish after the wrapped sink finished.
type finishNotifier struct {
	table.RowSink
	onFinish func()
}

func (f *finishNotifier) Finish(ctx context.Context) error {
	if err := f.RowSink.Finish(ctx); err != nil {
		return err
	}
	f.onFinish()
	return nil
}

var _ table.RowSink = (*finishNotifier)(nil)
