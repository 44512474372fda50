package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"reviewflow/internal/access"
	"reviewflow/internal/auth"
	"reviewflow/internal/backup"
	"reviewflow/internal/billing"
	"reviewflow/internal/config"
	"reviewflow/internal/credentials"
	"reviewflow/internal/identity"
	"reviewflow/internal/observability"
	"reviewflow/internal/registry"
	"reviewflow/internal/store"
	"reviewflow/internal/subscription"
)

// App owns every constructed service. There is no module-level state;
// lifecycle is Start/Stop on this object.
type App struct {
	Config config.Config
	Log    zerolog.Logger

	Store       *store.Store
	Backup      *backup.Store
	Repo        *subscription.Repository
	Registry    *registry.Service
	Evaluator   *access.Evaluator
	Sweep       *access.Sweep
	Credentials *credentials.Store
	Refresher   *credentials.Refresher
	Activator   *billing.Activator
	Metrics     *observability.Metrics
	Verifier    *auth.Verifier

	stop context.CancelFunc
}

func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx, st.DB()); err != nil {
		st.Close()
		return nil, err
	}

	var backupStore *backup.Store
	if cfg.Backup.RedisURL != "" {
		backupStore, err = backup.New(cfg.Backup.RedisURL)
		if err != nil {
			st.Close()
			return nil, err
		}
		// A missing backup at startup is survivable; reads prefer the primary.
		if err := backupStore.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("backup store unreachable at startup")
		}
	}

	metrics := observability.NewMetrics()

	var secondary subscription.Store
	if backupStore != nil {
		secondary = backupStore
	}
	repo := subscription.NewRepository(st.Subscriptions(), secondary, log.With().Str("component", "subscription_repository").Logger())

	reg, err := registry.NewService(st)
	if err != nil {
		st.Close()
		return nil, err
	}

	admins := access.NewAdminPolicy(cfg.Admin.Emails, st)
	evaluator := access.NewEvaluator(repo, admins, cfg.Trial.DefaultDays, log.With().Str("component", "evaluator").Logger())
	enforcer := access.NewEnforcer(repo, reg, st, log.With().Str("component", "enforcer").Logger())
	evaluator.Enforcer = enforcer

	sweepObserver := observability.NewSweepObserver(log.With().Str("component", "sweep").Logger(), metrics)
	sweep := access.NewSweep(repo, evaluator, enforcer, cfg.Sweep.Interval, sweepObserver, log.With().Str("component", "sweep").Logger())

	credStore := credentials.NewStore(st)
	provider := identity.NewProvider(cfg.Identity.TokenURL, cfg.Identity.ClientID, cfg.Identity.ClientSecret)
	refreshObserver := observability.NewRefreshObserver(log.With().Str("component", "refresher").Logger(), metrics)
	refresher := credentials.NewRefresher(reg, credStore, provider, st, refreshObserver, log.With().Str("component", "refresher").Logger())
	refresher.Interval = cfg.Refresh.Interval
	refresher.WarmupDelay = cfg.Refresh.WarmupDelay
	refresher.Window = cfg.Refresh.Window
	refresher.UserDelay = cfg.Refresh.UserDelay

	activator := billing.NewActivator(repo, st, cfg.Billing.PeriodDays, log.With().Str("component", "billing").Logger())

	return &App{
		Config:      cfg,
		Log:         log,
		Store:       st,
		Backup:      backupStore,
		Repo:        repo,
		Registry:    reg,
		Evaluator:   evaluator,
		Sweep:       sweep,
		Credentials: credStore,
		Refresher:   refresher,
		Activator:   activator,
		Metrics:     metrics,
		Verifier:    auth.NewVerifier(cfg.Security.TokenSigningKey),
	}, nil
}

// Start launches both control loops. They share nothing and may fire
// concurrently; each processes its own list sequentially.
func (a *App) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.stop = cancel
	a.Sweep.Start(ctx)
	a.Refresher.Start(ctx)
}

// Stop clears the scheduler timers. In-flight iterations finish on their own.
func (a *App) Stop() {
	if a.stop != nil {
		a.stop()
	}
}

func (a *App) Close() error {
	a.Stop()
	if a.Backup != nil {
		_ = a.Backup.Close()
	}
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

func (a *App) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Store.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.Handle("/metrics", a.Metrics.Handler())
	mux.Handle("/statusz", a.Verifier.Middleware(http.HandlerFunc(a.handleStatus)))

	srv := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	return srv.ListenAndServe()
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := a.Refresher.Stats()
	audit, err := a.Store.ListAudit(r.Context(), 20)
	if err != nil {
		a.Log.Warn().Err(err).Msg("audit listing failed")
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"refresh": map[string]any{
			"runs":           stats.Runs,
			"successes":      stats.Successes,
			"failures":       stats.Failures,
			"distinct_users": stats.DistinctUsers,
			"last_run":       stats.LastRun,
		},
		"recent_audit": audit,
	})
}
