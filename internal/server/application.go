// Package server wires every component into one running process,
// grounded on the teacher's internal/server package (application.go,
// dependencies.go, router.go): leaf-first construction, a main REST
// server and a separate WebSocket server on their own ports, a
// dedicated metrics server, and signal-driven graceful shutdown with a
// bounded drain window.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Logan27/1000-messenger-sub005/internal/config"
	"github.com/Logan27/1000-messenger-sub005/internal/fabric"
	"github.com/Logan27/1000-messenger-sub005/internal/httpapi"
	"github.com/Logan27/1000-messenger-sub005/internal/tracing"
)

type Application struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg    *config.Config
	logger *slog.Logger

	primaryDB *sql.DB
	replicaDB *sql.DB
	domain    *domainBundle
	tracer    *tracing.Provider

	httpServer    *http.Server
	wsServer      *http.Server
	metricsServer *http.Server

	workerCancel context.CancelFunc

	shutdownOnce sync.Once
}

func NewApplication(parentCtx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	ctx, cancel := context.WithCancel(parentCtx)
	app := &Application{ctx: ctx, cancel: cancel, cfg: cfg, logger: logger}

	if err := app.bootstrap(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *Application) bootstrap() error {
	if tp, err := tracing.Init(a.ctx, tracing.Config{
		ServiceName: "1000-messenger", Environment: a.cfg.NodeEnv, OTLPEndpoint: a.cfg.OTLPEndpoint,
	}); err != nil {
		a.logger.Warn("tracing disabled: failed to reach otlp collector", "error", err)
	} else {
		a.tracer = tp
	}

	primary, replica, err := openPostgres(a.cfg)
	if err != nil {
		return err
	}
	a.primaryDB, a.replicaDB = primary, replica

	a.domain = buildDomain(a.cfg, primary, replica)

	router := httpapi.NewRouter(httpapi.Deps{
		Config:            a.cfg,
		Store:             a.domain.store,
		Health:            a.domain.store,
		Redis:             a.domain.redis,
		RateLimitCounters: a.domain.redis.General,
		Messages:          a.domain.messages,
		Sessions:          a.domain.sessions,
		Verifier:          a.domain.verifier,
	})
	a.httpServer = &http.Server{
		Addr:         net.JoinHostPort("", a.cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	wsRouter := gin.New()
	wsRouter.Use(gin.Recovery())
	wsRouter.GET("/ws", fabric.ServeWS(a.domain.hub, a.domain.verifier))
	a.wsServer = &http.Server{
		Addr:    net.JoinHostPort("", a.cfg.WebSocketPort),
		Handler: wsRouter,
	}

	if a.cfg.PrometheusEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		a.metricsServer = &http.Server{
			Addr:    net.JoinHostPort("", a.cfg.PrometheusPort),
			Handler: metricsMux,
		}
	}

	return nil
}

// Run starts every server and background worker, then blocks until a
// termination signal arrives or any server reports a fatal error.
func (a *Application) Run() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	a.startBackgroundWorkers()

	errCh := make(chan error, 3)
	start := func(srv *http.Server, name string) {
		if srv == nil {
			return
		}
		go func() {
			a.logger.Info("starting server", "name", name, "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	start(a.httpServer, "http")
	start(a.wsServer, "websocket")
	start(a.metricsServer, "metrics")

	select {
	case <-quit:
		a.logger.Info("received shutdown signal")
	case err := <-errCh:
		a.logger.Error("server error, shutting down", "error", err)
	}
	return a.Shutdown()
}

// Shutdown drains in-flight work with a bounded timeout: the fabric and
// worker loops are cancelled first, then the HTTP/WS/metrics servers stop
// accepting new connections, then every connection pool closes.
func (a *Application) Shutdown() error {
	var shutdownErr error
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down")
		a.cancel()
		if a.workerCancel != nil {
			a.workerCancel()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		for _, srv := range []*http.Server{a.httpServer, a.wsServer, a.metricsServer} {
			if srv == nil {
				continue
			}
			if err := srv.Shutdown(ctx); err != nil {
				a.logger.Error("server shutdown error", "addr", srv.Addr, "error", err)
				shutdownErr = err
			}
		}
		if a.tracer != nil {
			_ = a.tracer.Shutdown(ctx)
		}
		a.Close()
	})
	return shutdownErr
}

func (a *Application) Close() {
	if a.domain != nil && a.domain.redis != nil {
		_ = a.domain.redis.Close()
	}
	if a.replicaDB != nil {
		_ = a.replicaDB.Close()
	}
	if a.primaryDB != nil {
		_ = a.primaryDB.Close()
	}
}

func (a *Application) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(a.ctx)
	a.workerCancel = cancel

	go a.domain.hub.Run(ctx)
	go a.domain.worker.Run(ctx)
}
