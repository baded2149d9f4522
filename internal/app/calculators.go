package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/alazzawimahmoud/math-stream/internal/domain"
)

// Calculator produit la paire résultat/erreur d'une opération.
// Contrat: exactement un des deux champs est renseigné, sur tous les
// chemins. Une erreur de calcul est un état terminal normal, jamais
// une erreur de job.
type Calculator interface {
	Calculate(ctx context.Context, op domain.Operation, a, b float64) domain.ResultValue
}

type CalculatorRegistry struct {
	byMode   map[domain.Mode]Calculator
	fallback Calculator
}

func (r CalculatorRegistry) Get(mode domain.Mode) Calculator {
	if r.byMode != nil {
		if c, ok := r.byMode[mode]; ok {
			return c
		}
	}
	return r.fallback
}

// NewCalculatorRegistry route classic vers l'arithmétique pure et ai
// vers le générateur de texte. Un mode inconnu retombe sur classic.
func NewCalculatorRegistry(ai Calculator) CalculatorRegistry {
	byMode := map[domain.Mode]Calculator{
		domain.ModeClassic: ClassicCalculator{},
	}
	if ai != nil {
		byMode[domain.ModeAI] = ai
	}
	return CalculatorRegistry{byMode: byMode, fallback: ClassicCalculator{}}
}

type ClassicCalculator struct{}

func (ClassicCalculator) Calculate(_ context.Context, op domain.Operation, a, b float64) domain.ResultValue {
	switch op {
	case domain.OpAdd:
		return resultOf(a + b)
	case domain.OpSubtract:
		return resultOf(a - b)
	case domain.OpMultiply:
		return resultOf(a * b)
	case domain.OpDivide:
		if b == 0 {
			return errorOf("Division by zero")
		}
		return resultOf(a / b)
	default:
		return errorOf("Unknown operation")
	}
}

// roundIfDecimal arrondit à 6 décimales pour borner le bruit flottant
// et garder des valeurs stables d'un calcul identique à l'autre. Les
// entiers passent tels quels.
func roundIfDecimal(v float64) float64 {
	if v == math.Trunc(v) {
		return v
	}
	return math.Round(v*1e6) / 1e6
}

// TextGenerator est l'appel externe du mode ai. L'implémentation
// concrète vit dans adapters/gemini.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

var operationNames = map[domain.Operation]string{
	domain.OpAdd:      "addition",
	domain.OpSubtract: "subtraction",
	domain.OpMultiply: "multiplication",
	domain.OpDivide:   "division",
}

type AICalculator struct {
	gen     TextGenerator
	timeout time.Duration
}

func NewAICalculator(gen TextGenerator, timeout time.Duration) *AICalculator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &AICalculator{gen: gen, timeout: timeout}
}

func (c *AICalculator) Calculate(ctx context.Context, op domain.Operation, a, b float64) domain.ResultValue {
	prompt := fmt.Sprintf(`Calculate the %s of %v and %v.
Only respond with the numeric result, nothing else.
If it's a division by zero, respond with "ERROR: Division by zero".
If the result is a decimal, round to 6 decimal places.`, operationNames[op], a, b)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.gen.Generate(ctx, prompt)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "timeout"
		}
		return errorOf("AI calculation failed: " + msg)
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "ERROR:") {
		return errorOf(strings.TrimSpace(strings.TrimPrefix(trimmed, "ERROR:")))
	}

	result, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return errorOf("AI returned invalid result: " + trimmed)
	}
	return domain.ResultValue{Result: &result}
}

func resultOf(v float64) domain.ResultValue {
	rounded := roundIfDecimal(v)
	return domain.ResultValue{Result: &rounded}
}

func errorOf(msg string) domain.ResultValue {
	return domain.ResultValue{Error: &msg}
}
