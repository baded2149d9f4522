package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/alazzawimahmoud/math-stream/internal/domain"
	"github.com/alazzawimahmoud/math-stream/internal/ports"
)

func newJobsRepo(t *testing.T) *JobsRepository {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewJobsRepository(db.SQL)
}

func fourJobs(computationID string) []domain.Job {
	jobs := make([]domain.Job, 0, 4)
	for i, op := range domain.Operations {
		jobs = append(jobs, domain.Job{
			ID:            computationID + "-" + string(rune('a'+i)),
			ComputationID: computationID,
			Operation:     op,
			A:             10,
			B:             5,
			Mode:          domain.ModeClassic,
			UseCache:      true,
		})
	}
	return jobs
}

func TestJobsRepository_EnqueueAndClaim(t *testing.T) {
	repo := newJobsRepo(t)
	ctx := context.Background()

	if _, err := repo.Claim(ctx); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty queue, got %v", err)
	}

	if err := repo.Enqueue(ctx, fourJobs("c1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	seen := map[domain.Operation]bool{}
	for i := 0; i < 4; i++ {
		job, err := repo.Claim(ctx)
		if err != nil {
			t.Fatalf("Claim #%d: %v", i+1, err)
		}
		if job.ComputationID != "c1" || !job.UseCache || job.A != 10 || job.B != 5 {
			t.Fatalf("job payload mangled: %+v", job)
		}
		if seen[job.Operation] {
			t.Fatalf("operation %s claimed twice", job.Operation)
		}
		seen[job.Operation] = true
	}

	// Un job claimed n'est plus claimable.
	if _, err := repo.Claim(ctx); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected empty queue after 4 claims, got %v", err)
	}
}

func TestJobsRepository_CompleteRemovesFromQueue(t *testing.T) {
	repo := newJobsRepo(t)
	ctx := context.Background()

	if err := repo.Enqueue(ctx, fourJobs("c1")[:1]); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := repo.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := repo.Complete(ctx, job.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := repo.Claim(ctx); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("completed job must not be claimable, got %v", err)
	}
}

func TestJobsRepository_ReleaseRequeuesThenFails(t *testing.T) {
	repo := newJobsRepo(t)
	ctx := context.Background()

	if err := repo.Enqueue(ctx, fourJobs("c1")[:1]); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Deux échecs -> re-file; le troisième épuise les tentatives.
	for attempt := 1; attempt < maxAttempts; attempt++ {
		job, err := repo.Claim(ctx)
		if err != nil {
			t.Fatalf("Claim (attempt %d): %v", attempt, err)
		}
		if job.Attempts != attempt-1 {
			t.Fatalf("expected %d prior attempts, got %d", attempt-1, job.Attempts)
		}
		if err := repo.Release(ctx, job.ID); err != nil {
			t.Fatalf("Release (attempt %d): %v", attempt, err)
		}
	}

	job, err := repo.Claim(ctx)
	if err != nil {
		t.Fatalf("final Claim: %v", err)
	}
	if err := repo.Release(ctx, job.ID); err != nil {
		t.Fatalf("final Release: %v", err)
	}
	if _, err := repo.Claim(ctx); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("exhausted job must not be requeued, got %v", err)
	}
}

func TestJobsRepository_ReleaseRequiresRunningState(t *testing.T) {
	repo := newJobsRepo(t)
	ctx := context.Background()

	if err := repo.Enqueue(ctx, fourJobs("c1")[:1]); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := repo.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := repo.Complete(ctx, job.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := repo.Release(ctx, job.ID); !errors.Is(err, ports.ErrConflict) {
		t.Fatalf("expected ErrConflict releasing a completed job, got %v", err)
	}
}
