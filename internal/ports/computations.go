package ports

import (
	"context"

	"github.com/alazzawimahmoud/math-stream/internal/domain"
)

// ComputationPage est une page d'historique pour un owner donné.
// Total est le compte complet, indépendant de la pagination.
type ComputationPage struct {
	Items   []domain.Computation
	HasMore bool
	Total   int
}

type ComputationStore interface {
	Create(ctx context.Context, c domain.Computation) (domain.Computation, error)
	Get(ctx context.Context, id string) (domain.Computation, error)
	ListByOwner(ctx context.Context, ownerID string, limit, skip int) (ComputationPage, error)
	// SetProgress met à jour la progression d'une opération et passe son
	// statut à processing. Sans effet sur un sous-résultat déjà terminal.
	SetProgress(ctx context.Context, id string, op domain.Operation, progress int) (domain.Computation, error)
	// SetTerminal écrit le résultat final d'une opération (progress=100,
	// completedAt) puis recalcule le statut de l'agrégat à partir des 4
	// sous-résultats. Idempotent: ré-écrire la même valeur est sans risque.
	SetTerminal(ctx context.Context, id string, op domain.Operation, value domain.ResultValue) (domain.Computation, error)
	// FindPriorResult cherche n'importe quel computation (tout owner)
	// portant un résultat terminal pour le même tuple (a, b, mode, op).
	// Renvoie ErrNotFound en l'absence de correspondance.
	FindPriorResult(ctx context.Context, a, b float64, mode domain.Mode, op domain.Operation) (domain.ResultValue, error)
}

// ResultCache est le cache court-terme keyé sur (a, b, mode, operation),
// jamais sur l'id d'un computation: le partage est inter-computations
// et inter-utilisateurs.
type ResultCache interface {
	Get(a, b float64, mode domain.Mode, op domain.Operation) (domain.ResultValue, bool)
	Put(a, b float64, mode domain.Mode, op domain.Operation, value domain.ResultValue)
}

// SnapshotCache est le cache d'agrégats complets pour les lectures de
// statut, keyé par id. Distinct du ResultCache.
type SnapshotCache interface {
	Get(id string) (domain.Computation, bool)
	Put(c domain.Computation)
	Invalidate(id string)
}

type JobQueue interface {
	// Enqueue persiste les jobs en une seule transaction. Le retour
	// garantit leur durabilité, pas leur exécution.
	Enqueue(ctx context.Context, jobs []domain.Job) error
	// Claim passe le plus vieux job "queued" à "running" et le renvoie.
	// Renvoie ErrNotFound s'il n'y a rien à exécuter.
	Claim(ctx context.Context) (domain.Job, error)
	Complete(ctx context.Context, jobID string) error
	// Release remet un job en file après un échec d'infrastructure,
	// ou le marque failed quand les tentatives sont épuisées.
	Release(ctx context.Context, jobID string) error
}

// UpdateBus diffuse les instantanés d'un computation à tous ses
// abonnés. Livraison best-effort: un abonné lent ou parti ne doit
// bloquer ni les autres abonnés ni l'émetteur.
type UpdateBus interface {
	Publish(computationID string, update domain.Update)
	Subscribe(computationID string) (ch <-chan domain.Update, cancel func())
}
