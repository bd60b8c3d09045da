package engine

import (
	"fmt"
	"strings"
	"time"
)

// Stage is the loop state an attempt ended in.
type Stage string

// Loop stages.
const (
	StageGenerate Stage = "GENERATE"
	StageValidate Stage = "VALIDATE"
	StageExecute  Stage = "EXECUTE"
)

// Attempt records one pass through the loop.
type Attempt struct {
	Number int
	// Stage is where the attempt stopped. A successful attempt stops at StageExecute with a nil Err.
	Stage Stage
	// Raw is the model output, empty when generation failed.
	Raw string
	// Statement is the stripped candidate, or the gated SQL once validation passed.
	Statement string
	Err       error
	Duration  time.Duration
}

// Failed reports whether the attempt did not produce a result.
func (a Attempt) Failed() bool { return a.Err != nil }

// GenerationError is returned when the model could not be called or returned nothing usable.
type GenerationError struct {
	Attempt int
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed on attempt %d: %v", e.Attempt, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every correction round failed.
type ExhaustedError struct {
	LastStatement string
	LastErr       error
	History       []Attempt
}

func (e *ExhaustedError) Error() string {
	counts := map[Stage]int{}
	for _, a := range e.History {
		if a.Failed() {
			counts[a.Stage]++
		}
	}
	return fmt.Sprintf("no executable statement after %d attempts (generate=%d validate=%d execute=%d): %v",
		len(e.History), counts[StageGenerate], counts[StageValidate], counts[StageExecute], e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// Summary renders the attempt history one line per attempt.
func (e *ExhaustedError) Summary() string {
	var b strings.Builder
	for _, a := range e.History {
		fmt.Fprintf(&b, "attempt %d [%s]: %v\n", a.Number, a.Stage, a.Err)
		if a.Statement != "" {
			fmt.Fprintf(&b, "  %s\n", oneLine(a.Statement))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
