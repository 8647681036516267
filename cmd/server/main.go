package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiwari-pos/orderdesk/internal/board"
	"github.com/kiwari-pos/orderdesk/internal/cart"
	"github.com/kiwari-pos/orderdesk/internal/config"
	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/kiwari-pos/orderdesk/internal/gateway/httpapi"
	"github.com/kiwari-pos/orderdesk/internal/gateway/pgstore"
	"github.com/kiwari-pos/orderdesk/internal/metrics"
	"github.com/kiwari-pos/orderdesk/internal/middleware"
	"github.com/kiwari-pos/orderdesk/internal/notify"
	"github.com/kiwari-pos/orderdesk/internal/printdata"
	"github.com/kiwari-pos/orderdesk/internal/router"
	"github.com/kiwari-pos/orderdesk/internal/settlement"
	"github.com/kiwari-pos/orderdesk/internal/temporal"
	"github.com/kiwari-pos/orderdesk/internal/wizard"
	"github.com/kiwari-pos/orderdesk/internal/ws"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// sessionMaxAge is how long finished settlement sessions are remembered.
const sessionMaxAge = 12 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)

	backend, closeBackend, err := openBackend(ctx, cfg, m)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Backend).Msg("open order backend")
	}
	defer closeBackend()

	hub := ws.NewHub()
	sinks := notify.Multi{notify.LogSink{}, hub}
	if cfg.AMQPURL != "" {
		amqpSink, err := notify.DialAMQP(cfg.AMQPURL, notify.DefaultExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("connect to event broker")
		}
		defer amqpSink.Close() //nolint:errcheck
		sinks = append(sinks, amqpSink)
		log.Info().Str("exchange", notify.DefaultExchange).Msg("publishing events to broker")
	}

	calc := temporal.NewCalculator(temporal.Options{
		NearLimitPercent: cfg.Business.NearLimitPercent,
		NearScheduledMin: cfg.Business.NearScheduledMin,
		NearScheduledMax: cfg.Business.NearScheduledMax,
	})

	settler := settlement.NewController(backend,
		settlement.WithSink(sinks),
		settlement.WithRecorder(m),
		settlement.WithTimeout(cfg.Business.SettlementTimeout),
	)

	b := board.New(backend, calc,
		board.WithSink(sinks),
		board.WithGauges(m),
		board.WithStates(cfg.Business.BoardStates),
		board.WithInterval(cfg.Business.TickInterval),
		board.WithLocation(cfg.Location),
	)
	hub.SetWelcome(b.Welcome)

	go hub.Run(ctx)
	go b.Run(ctx)
	go forgetSessions(ctx, settler)

	r := router.New(cfg, router.Deps{
		Backend:    backend,
		Settlement: settler,
		Board:      b,
		Calculator: calc,
		Composer:   printdata.NewComposer(backend, calc, cfg.Location),
		Hub:        hub,
		Metrics:    m,
		Sink:       sinks,
		Carts:      cart.NewStore(),
		Sessions:   wizard.NewStore(),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("backend", cfg.Backend).Str("env", cfg.Env).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}

// openBackend returns the configured order backend and a function that
// releases it.
func openBackend(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (gateway.Backend, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		pool, err := pgstore.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := pgstore.New(pool,
			pgstore.WithBusinessName(cfg.Business.Name),
			pgstore.WithNumberPrefix(cfg.Business.OrderPrefix),
		)
		return store, pool.Close, nil

	default:
		client := httpapi.New(cfg.BackendURL, cfg.BackendTimeout,
			httpapi.WithToken(middleware.TokenFromContext),
			httpapi.WithObserver(m),
		)
		return client, func() {}, nil
	}
}

func forgetSessions(ctx context.Context, c *settlement.Controller) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := c.Forget(sessionMaxAge); n > 0 {
				log.Debug().Int("sessions", n).Msg("settlement: forgot old sessions")
			}
		}
	}
}
