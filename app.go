package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/akila/mesh-simplifier/config"
	"github.com/akila/mesh-simplifier/handlers"
	"github.com/akila/mesh-simplifier/metrics"
	"github.com/akila/mesh-simplifier/server"
	"github.com/akila/mesh-simplifier/simplifier"
	"github.com/akila/mesh-simplifier/workers"
	"github.com/akila/mesh-simplifier/workspace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const metricsNamespace = "meshsimplify"

// app is the wired service: HTTP front end, metrics endpoint and reaper.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	workspace *workspace.Workspace
	router    http.Handler
	reaper    *workers.Reaper

	httpServer    *server.Manager
	metricsServer *server.Manager
}

func newApp(cfg *config.Config, reg prometheus.Registerer, gatherer prometheus.Gatherer, logger *zap.Logger) (*app, error) {
	ws := workspace.New(cfg.Workspace.Dir)
	if err := ws.Ensure(); err != nil {
		return nil, err
	}

	collector := metrics.NewCollector(metricsNamespace, reg, logger)

	proc := simplifier.NewProcessSimplifier(simplifier.Config{
		Executable:     cfg.Simplifier.Executable,
		Timeout:        cfg.Simplifier.Timeout,
		MaxOutputBytes: cfg.Simplifier.MaxOutputBytes,
	}, nil, collector, logger)

	if err := proc.Check(context.Background()); err != nil {
		// Requests will fail until the binary appears; /ready reports it.
		logger.Warn("simplifier executable not found",
			zap.String("executable", cfg.Simplifier.Executable),
			zap.Error(err))
	}

	simplify := handlers.NewSimplifyHandler(ws, proc, cfg.Server.MaxUploadBytes, collector, logger)
	health := handlers.NewHealthHandler(logger, proc, ws)

	mux := http.NewServeMux()
	mux.HandleFunc("/simplify", simplify.HandleSimplify)
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	router := handlers.Chain(mux,
		handlers.Recovery(logger),
		handlers.RequestID(),
		handlers.OTelTracing(),
		handlers.RequestLogger(logger),
		handlers.MetricsMiddleware(collector),
		handlers.CORS(cfg.Server.CORSAllowOrigin),
	)

	a := &app{
		cfg:       cfg,
		logger:    logger,
		workspace: ws,
		router:    router,
	}

	a.httpServer = server.NewManager(router, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     server.DefaultConfig().IdleTimeout,
		MaxHeaderBytes:  server.DefaultConfig().MaxHeaderBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	if cfg.Server.MetricsPort != 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		metricsCfg := server.DefaultConfig()
		metricsCfg.Addr = fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		metricsCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
		a.metricsServer = server.NewManager(metricsMux, metricsCfg, logger)
	}

	if cfg.Reaper.Enabled {
		a.reaper = workers.NewReaper(workers.ReaperConfig{
			Dir:      cfg.Workspace.Dir,
			TTL:      cfg.Reaper.TTL,
			Interval: cfg.Reaper.Interval,
		}, collector, logger)
	}

	return a, nil
}

// run serves until ctx is done or a server fails, then shuts everything
// down.
func (a *app) run(ctx context.Context) error {
	if err := a.httpServer.Start(); err != nil {
		return err
	}

	var metricsErrs <-chan error
	if a.metricsServer != nil {
		if err := a.metricsServer.Start(); err != nil {
			a.httpServer.Shutdown(context.Background())
			return err
		}
		metricsErrs = a.metricsServer.Errors()
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.reaper != nil {
		a.reaper.Start(gctx)
		g.Go(func() error {
			a.reaper.Wait()
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-a.httpServer.Errors():
			return fmt.Errorf("http server: %w", err)
		case err := <-metricsErrs:
			return fmt.Errorf("metrics server: %w", err)
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		var errs []error
		if err := a.httpServer.Shutdown(context.Background()); err != nil {
			errs = append(errs, err)
		}
		if a.metricsServer != nil {
			if err := a.metricsServer.Shutdown(context.Background()); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
