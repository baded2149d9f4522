package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/alazzawimahmoud/math-stream/internal/app"
	"github.com/alazzawimahmoud/math-stream/internal/httpjson"
)

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		httpjson.WriteError(w, http.StatusUnauthorized, "missing user")
		return
	}

	var req app.CreateComputationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}

	computation, err := s.computations.Create(r.Context(), owner, req)
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			httpjson.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpjson.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpjson.Write(w, http.StatusCreated, computation)
}

// handleGetStatus exige un principal mais pas la propriété: le statut
// d'un computation est lisible par tout utilisateur authentifié.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if ownerID(r) == "" {
		httpjson.WriteError(w, http.StatusUnauthorized, "missing user")
		return
	}

	id := chi.URLParam(r, "id")
	status, err := s.computations.GetStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			httpjson.WriteError(w, http.StatusNotFound, "not found")
			return
		}
		httpjson.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpjson.Write(w, http.StatusOK, status)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		httpjson.WriteError(w, http.StatusUnauthorized, "missing user")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))

	history, err := s.computations.History(r.Context(), owner, limit, skip)
	if err != nil {
		httpjson.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpjson.Write(w, http.StatusOK, history)
}
