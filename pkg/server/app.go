package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FlowScope/internal/usecase"
	"FlowScope/pkg/config"
	xhttp "FlowScope/pkg/http"
	pkgkafka "FlowScope/pkg/kafka"
	applogger "FlowScope/pkg/logger"
)

const flushTimeout = 5 * time.Second

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	session    *usecase.Session
	httpServer *xhttp.Server
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	collector  *usecase.SnapshotCollector
}

type Option func(*App)

// WithConsumer feeds snapshots from Kafka through kh. A nil consumer is ignored.
func WithConsumer(c *pkgkafka.Consumer, kh pkgkafka.MessageHandler) Option {
	return func(a *App) {
		if c != nil && kh != nil {
			a.consumer, a.kh = c, kh
		}
	}
}

// WithCollector feeds snapshots from the WebSocket feed. A nil collector is ignored.
func WithCollector(c *usecase.SnapshotCollector) Option {
	return func(a *App) { a.collector = c }
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, s *usecase.Session, httpServer *xhttp.Server, opts ...Option) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{cfg: cfg, logger: l, session: s, httpServer: httpServer}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts the ingest source and the HTTP server, then shuts down when ctx ends.
func (a *App) RunContext(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.collector != nil {
		if err := a.collector.Start(runCtx); err != nil {
			return fmt.Errorf("start collector: %w", err)
		}
		a.logger.Info("feed collector started", applogger.String("url", a.cfg.Feed.WebSocketURL))
	}

	if a.consumer != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(runCtx); err != nil {
			a.stopCollector()
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.logger.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		cancel()
		_ = a.shutdown()
		return err
	}
	a.logger.Info("http server started", applogger.Int("port", a.cfg.Server.Port),
		applogger.String("ingest", a.cfg.Ingest.Source),
		applogger.String("persistence", a.cfg.Persistence.Backend))

	<-ctx.Done()
	a.logger.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

func (a *App) stopCollector() {
	if a.collector == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := a.collector.Shutdown(ctx); err != nil {
		a.logger.Warn("collector stop error", applogger.Error(err))
	}
}

// shutdown stops intake first, then the API, then flushes history.
func (a *App) shutdown() error {
	a.logger.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), a.httpServer.ShutdownTimeout())
	defer cancel()

	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.logger.Warn("collector stop error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if err := a.httpServer.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), flushTimeout)
	defer flushCancel()
	var err error
	if a.session != nil {
		if err = a.session.Close(flushCtx); err != nil {
			a.logger.Error("history flush error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return err
}
