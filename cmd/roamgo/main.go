package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"roamgo/internal/api"
	"roamgo/pkg/config"
	"roamgo/pkg/connectivity"
	"roamgo/pkg/core"
	"roamgo/pkg/db"
	"roamgo/pkg/db/maintenance"
	"roamgo/pkg/gmaps"
	"roamgo/pkg/location"
	"roamgo/pkg/logging"
	"roamgo/pkg/places"
	"roamgo/pkg/probe"
	"roamgo/pkg/quota"
	"roamgo/pkg/remote"
	"roamgo/pkg/request"
	"roamgo/pkg/routes"
	"roamgo/pkg/session"
	"roamgo/pkg/store"
	"roamgo/pkg/tracker"
	"roamgo/pkg/version"
	"roamgo/pkg/visited"
)

const defaultConfigPath = "configs/roamgo.yaml"

var (
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
)

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.Save(*configPath, config.DefaultConfig()); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

// services is everything the HTTP layer and the scheduler need.
type services struct {
	local    store.Store
	remote   remote.DocumentStore
	tracker  *tracker.Tracker
	registry *prometheus.Registry
	conn     *connectivity.Checker
	maps     *gmaps.Client
	session  *session.Manager
	quota    *quota.Ledger
	places   *places.Cache
	routes   *routes.Cache
	visited  *visited.Cache
	location *location.Service
	core     *core.Orchestrator
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("RoamGo started", "version", version.Version, "revision", version.Revision())

	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbConn.Close()
	maintenance.Run(ctx, dbConn, maintenance.DefaultMaxAge)

	rs, err := initRemote(ctx, appCfg.Remote)
	if err != nil {
		return err
	}
	defer rs.Close()

	svcs, err := initServices(appCfg, store.NewSQLiteStore(dbConn), rs)
	if err != nil {
		return err
	}
	defer svcs.places.Close()
	defer svcs.visited.Close()

	results := probe.Run(ctx, startupProbes(appCfg, dbConn, svcs))
	if err := probe.AnalyzeResults(results); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	if session.Restore(ctx, svcs.local, svcs.session) {
		slog.Info("Session restored")
	}
	svcs.core.Init(ctx)

	sched := svcs.core.Scheduler(appCfg.Places.CleanupInterval.D())
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Start(ctx)
	}()

	handler := api.NewHandler(api.Deps{
		Orchestrator: svcs.core,
		Places:       svcs.places,
		Routes:       svcs.routes,
		Visited:      svcs.visited,
		Quota:        svcs.quota,
		Location:     svcs.location,
		Session:      svcs.session,
		Local:        svcs.local,
		Tracker:      svcs.tracker,
		Breaker:      svcs.maps.BreakerState,
		Gatherer:     svcs.registry,
	})
	srv := api.NewServer(appCfg.Server, handler)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	err = runServerLifecycle(ctx, srv, quit)
	cancel()
	<-schedDone
	return err
}

// initRemote opens the shared document store. Without a DSN an in-process
// store stands in, which keeps the remote tier working for a single device.
func initRemote(ctx context.Context, cfg config.RemoteConfig) (remote.DocumentStore, error) {
	if cfg.DSN == "" {
		slog.Info("No remote DSN configured, using in-process document store")
		return remote.NewMemoryStore(), nil
	}
	ps, err := remote.NewPostgresStore(ctx, cfg.DSN, cfg.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect remote store: %w", err)
	}
	return ps, nil
}

func initServices(cfg *config.Config, local store.Store, rs remote.DocumentStore) (*services, error) {
	s := &services{
		local:    local,
		remote:   rs,
		tracker:  tracker.New(),
		registry: prometheus.NewRegistry(),
		conn:     connectivity.New(cfg.Connectivity),
		session:  session.NewManager(),
	}
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := s.tracker.Register(s.registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	if cfg.Maps.Key == "" {
		slog.Warn("No maps API key configured; provider calls will fail and caches answer alone", "env", config.EnvMapsKey)
	}
	s.maps = gmaps.New(cfg.Maps, request.New(cfg.Request, s.tracker), s.tracker)

	s.quota = quota.New(cfg.Quota, local, rs, s.session, s.tracker)
	s.places = places.New(cfg.Places, cfg.Remote.BatchLimit, places.Deps{
		Provider:     s.maps,
		Quota:        s.quota,
		Identity:     s.session,
		Connectivity: s.conn,
		Local:        local,
		Remote:       rs,
		Tracker:      s.tracker,
	})
	s.routes = routes.New(cfg.Routes, routes.Deps{
		Router:   s.maps,
		Quota:    s.quota,
		Local:    local,
		Remote:   rs,
		Identity: s.session,
		Tracker:  s.tracker,
	})
	s.visited = visited.New(cfg.Visited, visited.Deps{
		Local:    local,
		Remote:   rs,
		Identity: s.session,
		Tracker:  s.tracker,
	})
	s.location = location.New(cfg.Location, location.Deps{
		Local:    local,
		Remote:   rs,
		Identity: s.session,
		Tracker:  s.tracker,
	})
	s.core = core.New(cfg.Location, core.Deps{
		Places:   s.places,
		Visited:  s.visited,
		Location: s.location,
		Routes:   s.routes,
		Session:  s.session,
	})
	return s, nil
}

func startupProbes(cfg *config.Config, dbConn *db.DB, s *services) []probe.Probe {
	return []probe.Probe{
		{
			Name:     "Local database",
			Check:    dbConn.PingContext,
			Critical: true,
		},
		{
			Name: "Remote store",
			Check: func(ctx context.Context) error {
				_, err := s.remote.Get(ctx, remote.CollPlaces, "probe")
				return err
			},
			Critical: cfg.Remote.DSN != "",
		},
		{
			Name: "Network",
			Check: func(ctx context.Context) error {
				if !s.conn.Online(ctx) {
					return errors.New("probe URL unreachable, running offline")
				}
				return nil
			},
			Critical: false,
		},
	}
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
