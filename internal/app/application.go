// Package app composes the composer's services into a running application:
// storage, the service layer, the HTTP API and the background sweep.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/platformkit/composer/internal/app/domain/definition"
	"github.com/platformkit/composer/internal/app/httpapi"
	"github.com/platformkit/composer/internal/app/services/audit"
	"github.com/platformkit/composer/internal/app/services/definitions"
	"github.com/platformkit/composer/internal/app/services/editor"
	"github.com/platformkit/composer/internal/app/services/instances"
	"github.com/platformkit/composer/internal/app/services/ordering"
	"github.com/platformkit/composer/internal/app/services/platforms"
	"github.com/platformkit/composer/internal/app/services/render"
	"github.com/platformkit/composer/internal/app/services/session"
	"github.com/platformkit/composer/internal/app/storage/docrepo"
	"github.com/platformkit/composer/internal/app/storage/docstore"
	"github.com/platformkit/composer/internal/app/storage/docstore/postgres"
	"github.com/platformkit/composer/internal/auth"
	"github.com/platformkit/composer/internal/logging"
	"github.com/platformkit/composer/internal/metrics"
	"github.com/platformkit/composer/internal/rendercache"
)

// Config selects the application's backing services.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string

	// PostgresDSN selects the Postgres document store; empty runs in-memory.
	PostgresDSN string

	// RedisAddr selects the shared snapshot cache; empty runs in-memory.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWTSecret signs and validates bearer tokens.
	JWTSecret string
	JWTIssuer string

	// CatalogPath seeds the definition catalog at startup when set.
	CatalogPath string

	// SweepSchedule is the cron spec of the order-consistency sweep.
	SweepSchedule string

	AllowedOrigin  string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Application ties the services together and manages their lifecycle.
type Application struct {
	cfg Config
	log *logging.Logger

	Repo        *docrepo.Repo
	Definitions *definitions.Service
	Platforms   *platforms.Service
	Instances   *instances.Service
	Order       *ordering.Controller
	Editor      *editor.Service
	Render      *render.Service
	Sessions    *session.Manager
	Authorizer  *auth.Authorizer
	Metrics     *metrics.Metrics

	sweeper *audit.Sweeper
	server  *http.Server
}

// New wires an application from config.
func New(ctx context.Context, cfg Config, log *logging.Logger) (*Application, error) {
	if log == nil {
		log = logging.New("composer")
	}

	var ds docstore.Store
	if cfg.PostgresDSN != "" {
		store, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres document store: %w", err)
		}
		ds = store
		log.Info("using postgres document store")
	} else {
		ds = docstore.NewMemory()
		log.Warn("using in-memory document store; state is not durable")
	}
	repo := docrepo.New(ds)

	var cache rendercache.Cache
	if cfg.RedisAddr != "" {
		redisCache, err := rendercache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connect render cache: %w", err)
		}
		cache = redisCache
		log.Info("using redis render cache")
	} else {
		cache = rendercache.NewMemory()
	}

	defs := definitions.New(repo, log)
	order := ordering.New(repo, log)
	inst := instances.New(repo, repo, order, log)
	plats := platforms.New(repo, repo, log)
	ed := editor.New(defs, inst, log)
	rnd := render.New(plats, inst, defs, render.NewRegistry(), cache, log)
	m := metrics.New()
	sessions := session.NewManager(plats, inst, order, repo, rnd, m, log)
	authorizer := auth.NewAuthorizer([]byte(cfg.JWTSecret), cfg.JWTIssuer)

	app := &Application{
		cfg:         cfg,
		log:         log,
		Repo:        repo,
		Definitions: defs,
		Platforms:   plats,
		Instances:   inst,
		Order:       order,
		Editor:      ed,
		Render:      rnd,
		Sessions:    sessions,
		Authorizer:  authorizer,
		Metrics:     m,
		sweeper:     audit.New(repo, repo, order, log),
	}

	if cfg.CatalogPath != "" {
		if err := app.seedCatalog(ctx, cfg.CatalogPath); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// seedCatalog loads and registers the definition seed file.
func (a *Application) seedCatalog(ctx context.Context, path string) error {
	catalog, err := definition.LoadCatalog(path)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if err := a.Definitions.Seed(ctx, catalog); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	a.log.WithField("path", path).
		WithField("definitions", len(catalog.Definitions)).
		Info("definition catalog seeded")
	return nil
}

// Start runs the HTTP server and the background sweep. It blocks until the
// server stops.
func (a *Application) Start() error {
	if err := a.sweeper.Start(a.cfg.SweepSchedule); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	handler := httpapi.New(
		a.Definitions, a.Platforms, a.Instances, a.Order,
		a.Editor, a.Render, a.Repo, a.Authorizer, a.Metrics, a.log,
	)
	a.server = &http.Server{
		Addr: a.cfg.ListenAddr,
		Handler: handler.Router(httpapi.Config{
			AllowedOrigin:  a.cfg.AllowedOrigin,
			RateLimitRPS:   a.cfg.RateLimitRPS,
			RateLimitBurst: a.cfg.RateLimitBurst,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.log.WithField("addr", a.cfg.ListenAddr).Info("composer listening")
	err := a.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the sweep and drains the HTTP server.
func (a *Application) Shutdown(ctx context.Context) error {
	a.sweeper.Stop()
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
