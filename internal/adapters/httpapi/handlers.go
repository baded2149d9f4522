package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/alazzawimahmoud/math-stream/internal/buildinfo"
	"github.com/alazzawimahmoud/math-stream/internal/httpjson"
)

const defaultRequestTimeout = 30 * time.Second

// ownerID résout le principal courant. L'authentification réelle est
// en amont (reverse proxy / gateway): ici on ne voit que l'id résolu.
func ownerID(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, buildinfo.Current())
}

func accessLogFn(r *http.Request, status, size int, duration time.Duration) {
	logger := hlog.FromRequest(r)
	logger.Info().
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("http")
}
