package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alazzawimahmoud/math-stream/internal/app"
	"github.com/alazzawimahmoud/math-stream/internal/domain"
)

// handleEvents streame les transitions d'un computation en SSE.
// L'abonnement au bus ne garantit rien sur le passé: l'état courant
// est envoyé d'abord, puis un event par publication, et le flux est
// fermé côté serveur juste après l'instantané "completed".
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	status, err := s.computations.GetStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			http.Error(w, "Computation not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if status.OwnerID != owner {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Déjà terminé: un seul instantané et on raccroche.
	if status.Status == domain.StatusCompleted {
		writeSSE(w, snapshotDTO(status))
		flusher.Flush()
		return
	}

	// S'abonner avant d'envoyer l'état initial: aucune transition ne
	// peut se glisser entre les deux.
	ch, cancel := s.bus.Subscribe(id)
	defer cancel()

	// Relire après l'abonnement: la publication "completed" a pu partir
	// entre la première lecture et le Subscribe, et plus rien ne sera
	// publié ensuite pour ce computation.
	status, err = s.computations.GetStatus(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeSSE(w, snapshotDTO(status))
	flusher.Flush()
	if status.Status == domain.StatusCompleted {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case update, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, app.ToUpdateDTO(update))
			flusher.Flush()
			if update.Status == domain.StatusCompleted {
				return
			}
		}
	}
}

func snapshotDTO(status app.StatusDTO) app.UpdateDTO {
	return app.UpdateDTO{
		ComputationID: status.ID,
		Status:        status.Status,
		Results:       status.Results,
		TotalProgress: status.TotalProgress,
	}
}

func writeSSE(w http.ResponseWriter, dto app.UpdateDTO) {
	b, err := json.Marshal(dto)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: update\ndata: %s\n\n", b)
}
