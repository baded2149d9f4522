package app

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/alazzawimahmoud/math-stream/internal/domain"
	"github.com/alazzawimahmoud/math-stream/internal/ports"
)

const defaultTotalDuration = 3 * time.Second

// Processor exécute un job d'opération: réutilisation d'un résultat
// antérieur (cache puis store) quand useCache le permet, sinon calcul
// simulé en 3 intervalles avec ticks de progression.
//
// Une erreur renvoyée par Process est un échec d'infrastructure: le
// job repart en file pour retry. Les erreurs de calcul (division par
// zéro, échec ai) terminent l'opération normalement et ne remontent
// jamais.
type Processor struct {
	logger zerolog.Logger
	store  ports.ComputationStore
	cache  ports.ResultCache
	bus    ports.UpdateBus
	calcs  CalculatorRegistry
	total  time.Duration
}

func NewProcessor(logger zerolog.Logger, store ports.ComputationStore, cache ports.ResultCache, bus ports.UpdateBus, calcs CalculatorRegistry, total time.Duration) *Processor {
	if total <= 0 {
		total = defaultTotalDuration
	}
	return &Processor{logger: logger, store: store, cache: cache, bus: bus, calcs: calcs, total: total}
}

func (p *Processor) Process(ctx context.Context, job domain.Job) error {
	if job.UseCache {
		if value, ok := p.cache.Get(job.A, job.B, job.Mode, job.Operation); ok {
			p.logger.Debug().Str("computation_id", job.ComputationID).Str("operation", string(job.Operation)).Msg("cache hit")
			return p.finish(ctx, job, value)
		}

		value, err := p.store.FindPriorResult(ctx, job.A, job.B, job.Mode, job.Operation)
		if err == nil {
			// On réchauffe le cache pour le prochain lookup identique.
			p.cache.Put(job.A, job.B, job.Mode, job.Operation, value)
			p.logger.Debug().Str("computation_id", job.ComputationID).Str("operation", string(job.Operation)).Msg("store hit")
			return p.finish(ctx, job, value)
		}
		if !errors.Is(err, ports.ErrNotFound) {
			return err
		}
	}

	intervals := randomIntervals(p.total, 3)
	elapsed := time.Duration(0)
	last := 0

	for i, interval := range intervals {
		if err := sleep(ctx, interval); err != nil {
			return err
		}
		elapsed += interval

		if i < len(intervals)-1 {
			progress := jitteredProgress(elapsed, p.total, last)
			last = progress
			updated, err := p.store.SetProgress(ctx, job.ComputationID, job.Operation, progress)
			if err != nil {
				return err
			}
			p.bus.Publish(job.ComputationID, domain.NewUpdate(updated))
			continue
		}

		value := p.calcs.Get(job.Mode).Calculate(ctx, job.Operation, job.A, job.B)
		p.cache.Put(job.A, job.B, job.Mode, job.Operation, value)
		return p.finish(ctx, job, value)
	}
	return nil
}

func (p *Processor) finish(ctx context.Context, job domain.Job, value domain.ResultValue) error {
	updated, err := p.store.SetTerminal(ctx, job.ComputationID, job.Operation, value)
	if err != nil {
		return err
	}
	p.bus.Publish(job.ComputationID, domain.NewUpdate(updated))
	return nil
}

// randomIntervals découpe total en n segments non négatifs dont la
// somme vaut exactement total: n-1 points de coupe aléatoires, triés.
func randomIntervals(total time.Duration, n int) []time.Duration {
	points := make([]time.Duration, n-1)
	for i := range points {
		points[i] = time.Duration(rand.Int63n(int64(total) + 1))
	}
	sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })

	out := make([]time.Duration, 0, n)
	prev := time.Duration(0)
	for _, point := range points {
		out = append(out, point-prev)
		prev = point
	}
	out = append(out, total-prev)
	return out
}

// jitteredProgress dérive un pourcentage de elapsed/total avec un
// bruit dans [-5, +5], borné à 99 avant l'étape finale et jamais en
// dessous de la dernière valeur rapportée.
func jitteredProgress(elapsed, total time.Duration, last int) int {
	base := float64(elapsed) / float64(total) * 100
	jitter := rand.Float64()*10 - 5
	progress := int(math.Round(base + jitter))
	if progress > 99 {
		progress = 99
	}
	if progress < last {
		progress = last
	}
	if progress < 0 {
		progress = 0
	}
	return progress
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
