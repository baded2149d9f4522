package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/alazzawimahmoud/math-stream/internal/app"
	"github.com/alazzawimahmoud/math-stream/internal/ports"
)

type Server struct {
	logger       zerolog.Logger
	computations *app.ComputationService
	bus          ports.UpdateBus
}

func NewServer(logger zerolog.Logger, computations *app.ComputationService, bus ports.UpdateBus) *Server {
	return &Server{logger: logger, computations: computations, bus: bus}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.RequestIDHandler("request_id", "Request-Id"))
	r.Use(hlog.RemoteAddrHandler("remote_ip"))
	r.Use(hlog.UserAgentHandler("user_agent"))
	r.Use(hlog.AccessHandler(accessLogFn))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/version", s.handleVersion)

		r.Route("/computations", func(r chi.Router) {
			// Le flux SSE n'est pas soumis au timeout global des
			// requêtes, il vit tant que le computation avance.
			r.Get("/{id}/events", s.handleEvents)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(defaultRequestTimeout))
				r.Post("/", s.handleCreate)
				r.Get("/", s.handleHistory)
				r.Get("/{id}", s.handleGetStatus)
			})
		})
	})

	return r
}
