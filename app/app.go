package app

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/searchktools/wind/config"
	"github.com/searchktools/wind/core"
	"github.com/searchktools/wind/core/middleware"
)

// App wires configuration, logging and the server together
type App struct {
	cfg    *config.Config
	log    zerolog.Logger
	server *core.Server
}

// New creates an application instance. The server logs through the logger
// built from cfg and records every finished request in the access log.
func New(cfg *config.Config, opts ...core.Option) *App {
	logger := cfg.Logger(os.Stderr)
	opts = append([]core.Option{
		core.WithLogger(logger),
		core.WithMiddleware(middleware.AccessLog(logger)),
	}, opts...)

	return &App{
		cfg:    cfg,
		log:    logger,
		server: core.NewServer(*cfg, opts...),
	}
}

// Server returns the underlying server for route registration
func (a *App) Server() *core.Server {
	return a.server
}

// Logger returns the application logger
func (a *App) Logger() *zerolog.Logger {
	return &a.log
}

// Run serves until SIGINT or SIGTERM. Failing to bind is fatal.
func (a *App) Run() {
	if err := a.server.Listen(); err != nil {
		a.log.Fatal().Err(err).Str("addr", a.cfg.Addr()).Msg("server startup failed")
	}

	stop := a.awaitSignal()
	defer stop()

	if err := a.server.Run(); err != nil {
		a.log.Fatal().Err(err).Msg("server failed")
	}
	a.log.Info().Str("stats", a.server.StatsJSON()).Msg("shutdown complete")
}

// awaitSignal stops the server on the first signal
func (a *App) awaitSignal() func() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-quit:
			a.log.Info().Str("signal", sig.String()).Msg("shutting down")
			a.server.Stop()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(quit)
		close(done)
	}
}
