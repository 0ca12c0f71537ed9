// Package app wires all Vocalis subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithRecordStore,
// WithDialFunc, etc.). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vocalis-health/vocalis/internal/api"
	"github.com/vocalis-health/vocalis/internal/config"
	"github.com/vocalis-health/vocalis/internal/health"
	"github.com/vocalis-health/vocalis/internal/icd10"
	"github.com/vocalis-health/vocalis/internal/interview"
	"github.com/vocalis-health/vocalis/internal/observe"
	"github.com/vocalis-health/vocalis/internal/persist"
	"github.com/vocalis-health/vocalis/internal/report"
	"github.com/vocalis-health/vocalis/internal/store/postgres"
	"github.com/vocalis-health/vocalis/internal/template"
)

// shutdownTimeout bounds the HTTP server drain when Run's context ends.
const shutdownTimeout = 10 * time.Second

// RecordStore is the full store surface the app wires: record CRUD for the
// API, session bootstrap for the manager, persistence writes for the
// gateway and summary storage for the reporter. *postgres.Store satisfies
// it; tests inject an in-memory double.
type RecordStore interface {
	api.RecordService
	SessionStore
	persist.Store
	report.SummaryWriter
	icd10.Index
	Ping(ctx context.Context) error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	log *slog.Logger

	// Subsystems, initialised in New and torn down in Shutdown.
	store     RecordStore
	pgStore   *postgres.Store // nil when the store was injected
	gateway   *persist.Gateway
	templates *template.Registry
	lookup    api.LookupService
	reporter  ReportGenerator
	dial      interview.DialFunc
	manager   *SessionManager
	metrics   *observe.Metrics
	server    *http.Server

	// closers run in order during Shutdown.
	closers []func(context.Context) error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecordStore injects a store instead of connecting to PostgreSQL.
func WithRecordStore(s RecordStore) Option {
	return func(a *App) { a.store = s }
}

// WithTemplates injects a template registry instead of loading from disk.
func WithTemplates(r *template.Registry) Option {
	return func(a *App) { a.templates = r }
}

// WithDialFunc injects a channel dialer instead of the realtime one.
func WithDialFunc(d interview.DialFunc) Option {
	return func(a *App) { a.dial = d }
}

// WithLookup injects a code lookup service instead of the embedding-backed one.
func WithLookup(l api.LookupService) Option {
	return func(a *App) { a.lookup = l }
}

// WithReporter injects a summary generator instead of the LLM-backed one.
func WithReporter(r ReportGenerator) Option {
	return func(a *App) { a.reporter = r }
}

// WithMetrics injects a metrics set instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger overrides slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// New creates an App by wiring all subsystems together. Initialisation is
// synchronous: database connection and migration, template loading, code
// catalogue sync, then the HTTP surface.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initTemplates(); err != nil {
		return nil, fmt.Errorf("app: init templates: %w", err)
	}
	if err := a.initLookup(ctx); err != nil {
		return nil, fmt.Errorf("app: init code lookup: %w", err)
	}
	if err := a.initReporter(); err != nil {
		return nil, fmt.Errorf("app: init reporter: %w", err)
	}
	a.initSessions()
	a.initHTTP()

	return a, nil
}

// initStore connects to PostgreSQL unless a store was injected, and builds
// the instrumented persistence gateway on top of it.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		store, err := postgres.NewStore(ctx, a.cfg.Database.DSN, a.cfg.Database.EmbeddingDimensions)
		if err != nil {
			return err
		}
		a.pgStore = store
		a.store = store
		a.closers = append(a.closers, func(context.Context) error {
			store.Close()
			return nil
		})
	}

	a.gateway = persist.NewGateway(
		observe.NewInstrumentedStore(a.store, a.metrics),
		persist.WithDebounce(a.cfg.Persist.Debounce.Std()),
		persist.WithLogger(a.log),
	)
	a.closers = append(a.closers, a.gateway.Close)
	return nil
}

func (a *App) initTemplates() error {
	if a.templates != nil {
		return nil
	}
	reg, err := template.LoadDir(a.cfg.Templates.Dir)
	if err != nil {
		return err
	}
	a.templates = reg
	return nil
}

// initLookup builds the ICD-10 lookup service and syncs the catalogue into
// the vector index on first run. Without an API key the lookup endpoint
// stays unconfigured rather than failing startup.
func (a *App) initLookup(ctx context.Context) error {
	if a.lookup != nil {
		return nil
	}
	if a.cfg.OpenAI.APIKey == "" {
		slog.Warn("no OpenAI API key, code lookup disabled")
		return nil
	}

	var embOpts []icd10.EmbedderOption
	if a.cfg.OpenAI.BaseURL != "" {
		embOpts = append(embOpts, icd10.WithEmbedderBaseURL(a.cfg.OpenAI.BaseURL))
	}
	embedder, err := icd10.NewOpenAIEmbedder(a.cfg.OpenAI.APIKey, a.cfg.OpenAI.EmbeddingModel, embOpts...)
	if err != nil {
		return err
	}
	svc := icd10.NewService(embedder, a.store, a.log)

	if path := a.cfg.ICD10.CatalogPath; path != "" {
		codes, err := icd10.LoadCatalog(path)
		if err != nil {
			return fmt.Errorf("load catalogue %q: %w", path, err)
		}
		if err := svc.SyncIfEmpty(ctx, codes); err != nil {
			return fmt.Errorf("sync catalogue: %w", err)
		}
	}

	a.lookup = svc
	return nil
}

func (a *App) initReporter() error {
	if a.reporter != nil {
		return nil
	}
	if a.cfg.OpenAI.APIKey == "" {
		slog.Warn("no OpenAI API key, summary generation disabled")
		return nil
	}

	var opts []report.Option
	if a.cfg.OpenAI.BaseURL != "" {
		opts = append(opts, report.WithBaseURL(a.cfg.OpenAI.BaseURL))
	}
	summariser, err := report.NewLLMSummariser(a.cfg.OpenAI.APIKey, a.cfg.OpenAI.ChatModel, opts...)
	if err != nil {
		return err
	}
	a.reporter = report.NewReporter(summariser, a.store, a.log)
	return nil
}

func (a *App) initSessions() {
	if a.dial == nil {
		a.dial = NewRealtimeDialer(a.cfg.OpenAI).Dial
	}

	delays := make([]time.Duration, 0, len(a.cfg.Reconnect.Delays))
	for _, d := range a.cfg.Reconnect.Delays {
		delays = append(delays, d.Std())
	}

	a.manager = NewSessionManager(SessionManagerConfig{
		Store:           a.store,
		Recorder:        a.gateway,
		Templates:       a.templates,
		Dial:            a.dial,
		NewCapture:      newCaptureFactory(a.cfg.Audio),
		NewPlayback:     newPlaybackFactory(a.cfg.Audio),
		Reporter:        a.reporter,
		Observer:        observe.NewSessionObserver(a.metrics),
		Metrics:         a.metrics,
		MaxReconnects:   a.cfg.Reconnect.MaxAttempts,
		ReconnectDelays: delays,
		Logger:          a.log,
	})
	a.closers = append(a.closers, a.manager.Shutdown)
}

func (a *App) initHTTP() {
	checks := health.New(health.DatabaseChecker(a.store))
	srv := api.NewServer(a.manager, a.store, a.templates, a.lookup, checks, a.metrics, a.log)

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests
// and shuts the application down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("listening", "addr", a.cfg.Server.ListenAddr)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})

	return g.Wait()
}

// Shutdown drains the HTTP server, completes live sessions, flushes pending
// writes and closes the database. Closers run in reverse initialisation
// order: session manager, then gateway, then store. It respects the context
// deadline: if ctx expires, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")

		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown error", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](ctx); err != nil {
				a.log.Warn("closer error", "err", err)
			}
		}
	})
	return shutdownErr
}
