package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/nla-consultoria/leadrelay/internal/config"
	"github.com/nla-consultoria/leadrelay/internal/delivery"
	"github.com/nla-consultoria/leadrelay/internal/funnel"
	"github.com/nla-consultoria/leadrelay/internal/meta"
	"github.com/nla-consultoria/leadrelay/internal/models"
	"github.com/nla-consultoria/leadrelay/internal/storage"
)

// Funnel is the session API the funnel routes drive.
type Funnel interface {
	Open(ctx context.Context, sessionID, variant string) (*funnel.View, error)
	Get(ctx context.Context, sessionID string) (*funnel.View, error)
	SetField(ctx context.Context, sessionID string, field models.Field, value string) (*funnel.View, error)
	Focus(ctx context.Context, sessionID string, field models.Field) (*funnel.View, error)
	Next(ctx context.Context, sessionID string) (*funnel.View, error)
	Back(ctx context.Context, sessionID string) (*funnel.View, error)
	Submit(ctx context.Context, sessionID string) (*funnel.SubmitResult, error)
	Reset(ctx context.Context, sessionID string) (*funnel.View, error)
	Abandon(ctx context.Context, sessionID string) error
}

type Replayer interface {
	ReplayFailures(ctx context.Context) (delivery.ReplayResult, error)
}

type ConversionSender interface {
	Send(ctx context.Context, ev meta.Event) error
}

type PageViewGuard interface {
	First(ctx context.Context, pageLoadID string) bool
}

type Deps struct {
	Store       storage.Storage
	Funnel      Funnel
	Replayer    Replayer
	Conversions ConversionSender
	PageViews   PageViewGuard
}

type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	router *chi.Mux
	log    zerolog.Logger
	http   *http.Server
}

func NewServer(cfg config.ServerConfig, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	funnelHandler := NewFunnelHandler(s.deps.Funnel, s.log)
	failureHandler := NewFailureHandler(s.deps.Store, s.deps.Replayer)
	dlvHandler := NewDeliveryHandler(s.deps.Store)
	statsHandler := NewStatsHandler(s.deps.Store)
	metaHandler := NewMetaHandler(s.deps.Conversions, s.deps.PageViews, s.log)

	r.Get("/health", statsHandler.Health)

	r.Post("/api/meta-events", metaHandler.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/funnel/sessions", func(r chi.Router) {
			r.Post("/", funnelHandler.Open)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", funnelHandler.Get)
				r.Put("/fields/{field}", funnelHandler.SetField)
				r.Post("/fields/{field}/focus", funnelHandler.Focus)
				r.Post("/next", funnelHandler.Next)
				r.Post("/back", funnelHandler.Back)
				r.Post("/submit", funnelHandler.Submit)
				r.Post("/reset", funnelHandler.Reset)
				r.Post("/abandon", funnelHandler.Abandon)
			})
		})

		// Operator routes
		r.Group(func(r chi.Router) {
			r.Use(AdminMiddleware(s.cfg.AdminToken))

			r.Get("/failures", failureHandler.List)
			r.Post("/failures/replay", failureHandler.Replay)
			r.Get("/attempts/{token}", dlvHandler.ListAttempts)
			r.Get("/stats", statsHandler.Stats)
		})
	})

	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
