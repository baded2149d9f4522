package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/xid"

	"github.com/alazzawimahmoud/math-stream/internal/domain"
	"github.com/alazzawimahmoud/math-stream/internal/ports"
)

// Dispatcher fan-out: un computation devient exactement 4 jobs, un par
// opération, chacun auto-suffisant. Aucun ordre garanti entre eux.
type Dispatcher struct {
	queue ports.JobQueue
}

func NewDispatcher(queue ports.JobQueue) *Dispatcher {
	return &Dispatcher{queue: queue}
}

func (d *Dispatcher) Enqueue(ctx context.Context, computationID string, a, b float64, mode domain.Mode, useCache bool) error {
	jobs := make([]domain.Job, 0, len(domain.Operations))
	for _, op := range domain.Operations {
		jobs = append(jobs, domain.Job{
			ID:            xid.New().String(),
			ComputationID: computationID,
			Operation:     op,
			A:             a,
			B:             b,
			Mode:          mode,
			UseCache:      useCache,
		})
	}
	return d.queue.Enqueue(ctx, jobs)
}

type ComputationService struct {
	store      ports.ComputationStore
	dispatcher *Dispatcher
	snapshots  ports.SnapshotCache
}

func NewComputationService(store ports.ComputationStore, dispatcher *Dispatcher, snapshots ports.SnapshotCache) *ComputationService {
	return &ComputationService{store: store, dispatcher: dispatcher, snapshots: snapshots}
}

type CreateComputationRequest struct {
	A        float64     `json:"a"`
	B        float64     `json:"b"`
	Mode     domain.Mode `json:"mode"`
	UseCache bool        `json:"useCache"`
}

type ResultDTO struct {
	Operation   domain.Operation `json:"operation"`
	Progress    int              `json:"progress"`
	Status      domain.Status    `json:"status"`
	Result      *float64         `json:"result"`
	Error       *string          `json:"error"`
	CompletedAt *time.Time       `json:"completedAt"`
}

type ComputationDTO struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"userId"`
	A         float64       `json:"a"`
	B         float64       `json:"b"`
	Mode      domain.Mode   `json:"mode"`
	Status    domain.Status `json:"status"`
	Results   []ResultDTO   `json:"results"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// StatusDTO est la forme renvoyée par GetStatus: l'agrégat plus la
// progression dérivée et la provenance de l'instantané.
type StatusDTO struct {
	ComputationDTO
	TotalProgress int  `json:"totalProgress"`
	FromCache     bool `json:"fromCache"`
}

type HistoryDTO struct {
	Items   []ComputationDTO `json:"items"`
	HasMore bool             `json:"hasMore"`
	Total   int              `json:"total"`
}

type UpdateDTO struct {
	ComputationID string        `json:"computationId"`
	Status        domain.Status `json:"status"`
	Results       []ResultDTO   `json:"results"`
	TotalProgress int           `json:"totalProgress"`
}

func ToResultDTO(r domain.Result) ResultDTO {
	return ResultDTO{
		Operation:   r.Operation,
		Progress:    r.Progress,
		Status:      r.Status,
		Result:      r.Result,
		Error:       r.Error,
		CompletedAt: r.CompletedAt,
	}
}

func ToComputationDTO(c domain.Computation) ComputationDTO {
	results := make([]ResultDTO, 0, len(c.Results))
	for _, r := range c.Results {
		results = append(results, ToResultDTO(r))
	}
	return ComputationDTO{
		ID:        c.ID,
		OwnerID:   c.OwnerID,
		A:         c.A,
		B:         c.B,
		Mode:      c.Mode,
		Status:    c.Status,
		Results:   results,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func ToUpdateDTO(u domain.Update) UpdateDTO {
	results := make([]ResultDTO, 0, len(u.Results))
	for _, r := range u.Results {
		results = append(results, ToResultDTO(r))
	}
	return UpdateDTO{
		ComputationID: u.ComputationID,
		Status:        u.Status,
		Results:       results,
		TotalProgress: u.TotalProgress,
	}
}

func (s *ComputationService) Create(ctx context.Context, ownerID string, req CreateComputationRequest) (ComputationDTO, error) {
	if ownerID == "" {
		return ComputationDTO{}, fmt.Errorf("%w: missing owner", ErrInvalidInput)
	}
	if !finite(req.A) || !finite(req.B) {
		return ComputationDTO{}, fmt.Errorf("%w: operands must be finite numbers", ErrInvalidInput)
	}
	if !req.Mode.Valid() {
		return ComputationDTO{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, req.Mode)
	}

	now := time.Now().UTC()
	created, err := s.store.Create(ctx, domain.Computation{
		ID:        xid.New().String(),
		OwnerID:   ownerID,
		A:         req.A,
		B:         req.B,
		Mode:      req.Mode,
		Status:    domain.StatusPending,
		Results:   domain.NewResults(),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return ComputationDTO{}, err
	}

	if err := s.dispatcher.Enqueue(ctx, created.ID, req.A, req.B, req.Mode, req.UseCache); err != nil {
		return ComputationDTO{}, err
	}
	return ToComputationDTO(created), nil
}

func (s *ComputationService) GetStatus(ctx context.Context, id string) (StatusDTO, error) {
	if c, ok := s.snapshots.Get(id); ok {
		return StatusDTO{
			ComputationDTO: ToComputationDTO(c),
			TotalProgress:  domain.TotalProgress(c.Results),
			FromCache:      true,
		}, nil
	}

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return StatusDTO{}, err
	}

	// Seuls les agrégats terminés entrent au cache: tout le reste bouge
	// encore.
	s.snapshots.Put(c)

	return StatusDTO{
		ComputationDTO: ToComputationDTO(c),
		TotalProgress:  domain.TotalProgress(c.Results),
		FromCache:      false,
	}, nil
}

func (s *ComputationService) History(ctx context.Context, ownerID string, limit, skip int) (HistoryDTO, error) {
	page, err := s.store.ListByOwner(ctx, ownerID, limit, skip)
	if err != nil {
		return HistoryDTO{}, err
	}
	items := make([]ComputationDTO, 0, len(page.Items))
	for _, c := range page.Items {
		items = append(items, ToComputationDTO(c))
	}
	return HistoryDTO{Items: items, HasMore: page.HasMore, Total: page.Total}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
