package domain

type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job est l'unité de travail éphémère d'une opération.
// Auto-suffisante: un worker n'a besoin de rien d'autre pour l'exécuter.
type Job struct {
	ID            string
	ComputationID string
	Operation     Operation
	A             float64
	B             float64
	Mode          Mode
	UseCache      bool
	Attempts      int
}
