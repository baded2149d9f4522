package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/alazzawimahmoud/math-stream/internal/domain"
	"github.com/alazzawimahmoud/math-stream/internal/ports"
)

type WorkerOptions struct {
	PollInterval time.Duration
}

func DefaultWorkerOptions() WorkerOptions {
	return WorkerOptions{PollInterval: 250 * time.Millisecond}
}

// Worker tire les jobs de la file et les confie au Processor. Les 4
// jobs d'un même computation tournent réellement en parallèle dès
// qu'au moins 4 workers sont actifs.
type Worker struct {
	logger zerolog.Logger
	queue  ports.JobQueue
	proc   *Processor
	opts   WorkerOptions
}

func NewWorker(logger zerolog.Logger, queue ports.JobQueue, proc *Processor, opts WorkerOptions) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultWorkerOptions().PollInterval
	}
	return &Worker{logger: logger, queue: queue, proc: proc, opts: opts}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				job, err := w.queue.Claim(ctx)
				if err != nil {
					if errors.Is(err, ports.ErrNotFound) {
						break
					}
					if ctx.Err() != nil {
						return
					}
					w.logger.Error().Err(err).Msg("claim next job failed")
					break
				}
				w.execute(ctx, job)
			}
		}
	}
}

func (w *Worker) execute(ctx context.Context, job domain.Job) {
	w.logger.Info().
		Str("job_id", job.ID).
		Str("computation_id", job.ComputationID).
		Str("operation", string(job.Operation)).
		Msg("job claimed")

	if err := w.proc.Process(ctx, job); err != nil {
		// Échec d'infrastructure: le job repart en file, la politique de
		// retry appartient à la file elle-même.
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("processing failed")

		// La remise en file doit aboutir même quand c'est l'arrêt du
		// worker qui a interrompu le traitement: avec le contexte annulé
		// l'UPDATE échouerait et le job resterait bloqué en running.
		relCtx := ctx
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			relCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if relErr := w.queue.Release(relCtx, job.ID); relErr != nil {
			w.logger.Error().Err(relErr).Str("job_id", job.ID).Msg("release failed")
		}
		return
	}

	if err := w.queue.Complete(ctx, job.ID); err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to mark job completed")
	}
}
