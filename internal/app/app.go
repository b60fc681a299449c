// Package app wires the reciter subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the item store, imports
// the collection file and builds the session, Run drives the console and
// the optional observability listener, and Shutdown tears everything down
// in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithSpeaker, WithInput, ...). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/reciter/internal/config"
	"github.com/MrWong99/reciter/internal/health"
	"github.com/MrWong99/reciter/internal/item"
	"github.com/MrWong99/reciter/internal/observe"
	"github.com/MrWong99/reciter/internal/playback"
	"github.com/MrWong99/reciter/internal/session"
	"github.com/MrWong99/reciter/pkg/speech"
)

// consolePerRune is how long the console speaker lingers on every rune.
const consolePerRune = 120 * time.Millisecond

// App owns all subsystem lifetimes.
type App struct {
	cfg        *config.Config
	configPath string
	version    string
	level      *slog.LevelVar

	store    item.Store
	speaker  speech.Speaker
	metrics  *observe.Metrics
	provider *observe.Provider
	sess     *session.Session
	watcher  *config.Watcher
	checks   []health.Checker
	names    map[string]string

	in  io.Reader
	out *syncWriter

	// listener is pre-bound in tests; otherwise Run listens on
	// cfg.Server.ListenAddr.
	listener net.Listener

	feedMu sync.Mutex
	feed   *speech.Feed

	// closers are called in order during Shutdown.
	closers []func(ctx context.Context) error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects an item store instead of creating one from config.
func WithStore(s item.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSpeaker injects the speech backend. Default: a console printer.
func WithSpeaker(sp speech.Speaker) Option {
	return func(a *App) { a.speaker = sp }
}

// WithMetrics injects metrics instead of installing the Prometheus
// provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithInput sets where console commands are read from. Default: os.Stdin.
func WithInput(r io.Reader) Option {
	return func(a *App) { a.in = r }
}

// WithOutput sets where console output goes. Default: os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = &syncWriter{w: w} }
}

// WithConfigPath enables hot reload of the config file at path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLogLevel lets config reloads adjust the log level.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithVersion sets the service version reported in telemetry.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithListener serves the observability endpoints on l instead of
// cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:   cfg,
		names: make(map[string]string),
	}
	for _, o := range opts {
		o(a)
	}
	if a.in == nil {
		a.in = os.Stdin
	}
	if a.out == nil {
		a.out = &syncWriter{w: os.Stdout}
	}
	if a.speaker == nil {
		a.speaker = speech.NewPrinter(a.out, "🔊 ", consolePerRune)
	}

	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		a.closeAll(ctx)
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.importCollections(ctx); err != nil {
		a.closeAll(ctx)
		return nil, fmt.Errorf("app: import collections: %w", err)
	}

	sess, err := session.New(session.Config{
		Store:    a.store,
		Speaker:  a.speaker,
		Settings: cfg.Recite.Settings(),
		Metrics:  a.metrics,
		OnStatus: a.printStatus,
		OnStep: func(i int, st playback.Step) {
			slog.Debug("app: step", "index", i, "kind", st.Kind(), "round", st.Round)
		},
	})
	if err != nil {
		a.closeAll(ctx)
		return nil, fmt.Errorf("app: init session: %w", err)
	}
	a.sess = sess
	a.closers = append(a.closers, func(context.Context) error {
		sess.Close()
		return nil
	})

	if err := a.selectFirst(ctx); err != nil {
		a.closeAll(ctx)
		return nil, err
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig)
		if err != nil {
			a.closeAll(ctx)
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
	}
	return a, nil
}

// initTelemetry installs the Prometheus-backed provider unless metrics were
// injected.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	p, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: a.version})
	if err != nil {
		return err
	}
	m, err := observe.NewMetrics(p.MeterProvider())
	if err != nil {
		_ = p.Shutdown(ctx)
		return err
	}
	a.provider, a.metrics = p, m
	a.closers = append(a.closers, p.Shutdown)
	return nil
}

// initStore opens the PostgreSQL store when a DSN is configured, or an
// in-memory store otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		a.store = item.NewMemStore()
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	ps := item.NewPostgresStore(pool)
	if err := ps.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}
	a.store = ps
	a.checks = append(a.checks, health.PingCheck("postgres", pool))
	a.closers = append(a.closers, func(context.Context) error {
		pool.Close()
		return nil
	})
	slog.Info("app: using postgres item store")
	return nil
}

func (a *App) importCollections(ctx context.Context) error {
	path := a.cfg.Store.CollectionFile
	if path == "" {
		return nil
	}
	f, err := item.LoadFile(path)
	if err != nil {
		return err
	}
	n, err := item.Import(ctx, a.store, f)
	if err != nil {
		return err
	}
	for _, c := range f.Collections {
		a.names[c.ID] = c.Name
	}
	slog.Info("app: imported collections", "path", path, "collections", len(f.Collections), "items", n)
	return nil
}

// selectFirst makes the first stored item current, if there is one.
func (a *App) selectFirst(ctx context.Context) error {
	items, err := a.store.List(ctx)
	if err != nil {
		return fmt.Errorf("app: list items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}
	return a.sess.SetCurrent(ctx, items[0].ID)
}

// applyConfig hot-applies a reloaded config.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if len(d.ReciteChanged) > 0 {
		if err := a.sess.ApplySettings(new.Recite.Settings()); err != nil {
			slog.Warn("app: reloaded settings rejected", "err", err)
		} else {
			slog.Info("app: settings reloaded", "keys", d.ReciteChanged, "check_reset", d.NeedsCheckReset)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: changed keys take effect after a restart", "keys", d.RestartRequired)
	}
}

func (a *App) currentItemID() string {
	it, _ := a.sess.Current()
	return it.ID
}

// Session returns the learner session.
func (a *App) Session() *session.Session { return a.sess }

// Run reads console commands until "quit", end of input, or ctx is done.
// When a listen address (or listener) is configured it also serves
// /metrics, /healthz and /readyz, and a config path enables hot reload.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if srv, l, err := a.httpServer(); err != nil {
		return err
	} else if srv != nil {
		g.Go(func() error {
			slog.Info("app: serving observability endpoints", "addr", l.Addr().String())
			if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		return a.console(gctx)
	})

	return g.Wait()
}

func (a *App) httpServer() (*http.Server, net.Listener, error) {
	l := a.listener
	if l == nil {
		if a.cfg.Server.ListenAddr == "" {
			return nil, nil, nil
		}
		var err error
		if l, err = net.Listen("tcp", a.cfg.Server.ListenAddr); err != nil {
			return nil, nil, fmt.Errorf("app: listen: %w", err)
		}
	}

	mux := http.NewServeMux()
	checks := append([]health.Checker{{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := a.store.List(ctx)
			return err
		},
	}}, a.checks...)
	health.New(checks...).Register(mux)
	if a.provider != nil {
		mux.Handle("/metrics", a.provider.Handler())
	}
	return &http.Server{
		Handler:           observe.Middleware(a.metrics, observe.WithCurrentItem(a.currentItemID))(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}, l, nil
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))
		a.stopListening()
		shutdownErr = a.closeAll(ctx)
		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll(ctx context.Context) error {
	for i, closer := range a.closers {
		if ctx.Err() != nil {
			slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
			return ctx.Err()
		}
		if err := closer(ctx); err != nil {
			slog.Warn("app: closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
	return nil
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// syncWriter serialises writes from the console, the speaker and the
// playback hooks.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
