package app

import (
	"errors"

	"github.com/alazzawimahmoud/math-stream/internal/ports"
)

var ErrNotFound = ports.ErrNotFound

// ErrInvalidInput couvre les rejets synchrones à la création
// (opérandes non finis, mode inconnu). Rien n'est enfilé dans ce cas.
var ErrInvalidInput = errors.New("invalid input")
