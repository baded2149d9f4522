// Package ttlcache fournit les deux caches de MathStream au-dessus de
// go-cache: le cache de résultats par opération (partagé entre
// computations et entre utilisateurs) et le cache d'instantanés
// d'agrégats complets. Les deux expirent, aucun ne s'écrit l'un dans
// l'autre.
package ttlcache

import (
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/alazzawimahmoud/math-stream/internal/domain"
)

const cleanupInterval = 10 * time.Minute

// ResultCache est keyé sur (a, b, mode, operation) — jamais sur un id
// de computation: c'est ce qui permet la réutilisation croisée.
type ResultCache struct {
	c *gocache.Cache
}

func NewResultCache(ttl time.Duration) *ResultCache {
	return &ResultCache{c: gocache.New(ttl, cleanupInterval)}
}

func (r *ResultCache) Get(a, b float64, mode domain.Mode, op domain.Operation) (domain.ResultValue, bool) {
	v, ok := r.c.Get(resultKey(a, b, mode, op))
	if !ok {
		return domain.ResultValue{}, false
	}
	value, ok := v.(domain.ResultValue)
	return value, ok
}

func (r *ResultCache) Put(a, b float64, mode domain.Mode, op domain.Operation, value domain.ResultValue) {
	r.c.Set(resultKey(a, b, mode, op), value, gocache.DefaultExpiration)
}

func resultKey(a, b float64, mode domain.Mode, op domain.Operation) string {
	return "result:" +
		strconv.FormatFloat(a, 'g', -1, 64) + ":" +
		strconv.FormatFloat(b, 'g', -1, 64) + ":" +
		string(mode) + ":" + string(op)
}

// SnapshotCache garde les agrégats terminés pour accélérer les
// lectures de statut. Seuls les computations "completed" sont admis:
// un instantané en cours de route serait périmé dès la publication
// suivante.
type SnapshotCache struct {
	c *gocache.Cache
}

func NewSnapshotCache(ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{c: gocache.New(ttl, cleanupInterval)}
}

func (s *SnapshotCache) Get(id string) (domain.Computation, bool) {
	v, ok := s.c.Get(snapshotKey(id))
	if !ok {
		return domain.Computation{}, false
	}
	c, ok := v.(domain.Computation)
	return c, ok
}

func (s *SnapshotCache) Put(c domain.Computation) {
	if c.Status != domain.StatusCompleted {
		return
	}
	s.c.Set(snapshotKey(c.ID), c, gocache.DefaultExpiration)
}

func (s *SnapshotCache) Invalidate(id string) {
	s.c.Delete(snapshotKey(id))
}

func snapshotKey(id string) string {
	return "computation:" + id
}
