package domain

import (
	"math"
	"time"
)

type Operation string

const (
	OpAdd      Operation = "add"
	OpSubtract Operation = "subtract"
	OpMultiply Operation = "multiply"
	OpDivide   Operation = "divide"
)

// Operations est l'ensemble fixe, dans l'ordre de présentation.
// Un Computation porte exactement un Result par entrée.
var Operations = [4]Operation{OpAdd, OpSubtract, OpMultiply, OpDivide}

func (o Operation) Valid() bool {
	switch o {
	case OpAdd, OpSubtract, OpMultiply, OpDivide:
		return true
	default:
		return false
	}
}

type Mode string

const (
	ModeClassic Mode = "classic"
	ModeAI      Mode = "ai"
)

func (m Mode) Valid() bool {
	return m == ModeClassic || m == ModeAI
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ResultValue est la paire résultat/erreur d'une opération terminée.
// Exactement un des deux champs est non-nil.
type ResultValue struct {
	Result *float64
	Error  *string
}

func (v ResultValue) Status() Status {
	if v.Error != nil {
		return StatusFailed
	}
	return StatusCompleted
}

// Result est le sous-état d'une opération, embarqué dans Computation.
type Result struct {
	Operation   Operation
	Progress    int
	Status      Status
	Result      *float64
	Error       *string
	CompletedAt *time.Time
}

type Computation struct {
	ID        string
	OwnerID   string
	A         float64
	B         float64
	Mode      Mode
	Status    Status
	Results   []Result
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewResults renvoie les 4 sous-résultats initiaux, un par opération.
func NewResults() []Result {
	out := make([]Result, 0, len(Operations))
	for _, op := range Operations {
		out = append(out, Result{Operation: op, Progress: 0, Status: StatusPending})
	}
	return out
}

func (c Computation) ResultFor(op Operation) (Result, bool) {
	for _, r := range c.Results {
		if r.Operation == op {
			return r, true
		}
	}
	return Result{}, false
}

func (c Computation) AllTerminal() bool {
	for _, r := range c.Results {
		if !r.Status.IsTerminal() {
			return false
		}
	}
	return len(c.Results) > 0
}

// TotalProgress est la moyenne non pondérée des 4 progressions,
// arrondie à l'entier le plus proche. Jamais stockée, toujours dérivée.
func TotalProgress(results []Result) int {
	sum := 0
	for _, r := range results {
		sum += r.Progress
	}
	return int(math.Round(float64(sum) / 4))
}

// Update est l'instantané publié sur le bus à chaque transition.
type Update struct {
	ComputationID string
	Status        Status
	Results       []Result
	TotalProgress int
}

func NewUpdate(c Computation) Update {
	return Update{
		ComputationID: c.ID,
		Status:        c.Status,
		Results:       c.Results,
		TotalProgress: TotalProgress(c.Results),
	}
}
