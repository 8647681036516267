package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kiwari-pos/orderdesk/internal/board"
	"github.com/kiwari-pos/orderdesk/internal/cart"
	"github.com/kiwari-pos/orderdesk/internal/config"
	"github.com/kiwari-pos/orderdesk/internal/gateway"
	"github.com/kiwari-pos/orderdesk/internal/handler"
	"github.com/kiwari-pos/orderdesk/internal/metrics"
	mw "github.com/kiwari-pos/orderdesk/internal/middleware"
	"github.com/kiwari-pos/orderdesk/internal/notify"
	"github.com/kiwari-pos/orderdesk/internal/printdata"
	"github.com/kiwari-pos/orderdesk/internal/settlement"
	"github.com/kiwari-pos/orderdesk/internal/temporal"
	"github.com/kiwari-pos/orderdesk/internal/wizard"
	"github.com/kiwari-pos/orderdesk/internal/ws"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the long-lived components the routes are served from.
type Deps struct {
	Backend    gateway.Backend
	Settlement *settlement.Controller
	Board      *board.Board
	Calculator *temporal.Calculator
	Composer   *printdata.Composer
	Hub        *ws.Hub
	Metrics    *metrics.Metrics
	Sink       notify.Sink
	Carts      *cart.Store
	Sessions   *wizard.Store
}

// New creates a Chi router with all application routes wired up.
// Everything under /outlets/{oid} requires a token for that outlet.
func New(cfg *config.Config, d Deps) chi.Router {
	r := chi.NewRouter()

	accessLog := log.With().Str("component", "http").Logger()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: &accessLog, NoColor: true}))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", health(d.Backend))
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry(), promhttp.HandlerOpts{}))

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/outlets/{oid}/orders", ws.ServeWS(d.Hub, cfg.JWTSecret))

	clock := handler.Clock{Location: cfg.Location}
	taxRate := cfg.Business.Tax()

	orderHandler := handler.NewOrderHandler(d.Backend, d.Settlement, d.Carts, d.Calculator, handler.OrderDeps{
		Board:    d.Board,
		Recorder: d.Metrics,
		Sink:     d.Sink,
		Clock:    clock,
		TaxRate:  taxRate,
	})
	settleHandler := handler.NewSettleHandler(d.Settlement, d.Backend, d.Carts, d.Board, clock, taxRate)
	printHandler := handler.NewPrintHandler(d.Composer)
	cartHandler := handler.NewCartHandler(d.Carts)
	wizardHandler := handler.NewWizardHandler(d.Sessions, d.Carts, d.Backend)

	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		r.Route("/outlets/{oid}", func(r chi.Router) {
			r.Use(mw.RequireOutlet)

			r.Route("/orders", func(r chi.Router) {
				orderHandler.RegisterRoutes(r)
				settleHandler.RegisterOrderRoutes(r)
				printHandler.RegisterRoutes(r)
			})
			r.Route("/carts", func(r chi.Router) {
				cartHandler.RegisterRoutes(r)
				settleHandler.RegisterCartRoutes(r)
			})
			r.Route("/wizard", wizardHandler.RegisterRoutes)
		})
	})

	log.Info().Msg("router initialized")
	return r
}

func health(backend gateway.Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		p, ok := backend.(Pinger)
		if !ok {
			w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("health: backend ping failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"degraded","backend":"unreachable"}`)) //nolint:errcheck
			return
		}
		w.Write([]byte(`{"status":"ok","backend":"ok"}`)) //nolint:errcheck
	}
}
