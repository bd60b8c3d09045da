package eval

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/leapstack-labs/sqlpilot/internal/state"
)

// Summary aggregates a batch.
type Summary struct {
	Total        int `json:"total"`
	GatePassPred int `json:"gate_pass_pred"`
	GatePassGold int `json:"gate_pass_gold"`
	ExecutedPred int `json:"executed_pred"`
	ExecutedGold int `json:"executed_gold"`
	ExecutedBoth int `json:"executed_both"`
	Equivalent   int `json:"equivalent"`

	ByStatus map[Status]int `json:"by_status"`
}

// Summarize counts how far each case got.
func Summarize(results []CaseResult) Summary {
	s := Summary{Total: len(results), ByStatus: make(map[Status]int)}
	for _, r := range results {
		s.ByStatus[r.Status]++
		switch r.Status {
		case StatusFailGateGold:
			s.GatePassPred++
		case StatusFailExecPred:
			s.GatePassPred++
			s.GatePassGold++
		case StatusFailExecGold:
			s.GatePassPred++
			s.GatePassGold++
			s.ExecutedPred++
		case StatusOK, StatusWrong:
			s.GatePassPred++
			s.GatePassGold++
			s.ExecutedPred++
			s.ExecutedGold++
			s.ExecutedBoth++
			if r.Status == StatusOK {
				s.Equivalent++
			}
		}
	}
	return s
}

// Rate returns n as a fraction of the total, or 0 for an empty batch.
func (s Summary) Rate(n int) float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(n) / float64(s.Total)
}

// Accuracy is the equivalent fraction of all cases.
func (s Summary) Accuracy() float64 { return s.Rate(s.Equivalent) }

// ExecutedAccuracy is the equivalent fraction of cases where both sides executed.
func (s Summary) ExecutedAccuracy() float64 {
	if s.ExecutedBoth == 0 {
		return 0
	}
	return float64(s.Equivalent) / float64(s.ExecutedBoth)
}

// Counts converts the summary to the stored run counters.
func (s Summary) Counts() state.Counts {
	return state.Counts{
		Total:        s.Total,
		GatePassPred: s.GatePassPred,
		GatePassGold: s.GatePassGold,
		ExecutedPred: s.ExecutedPred,
		ExecutedGold: s.ExecutedGold,
		ExecutedBoth: s.ExecutedBoth,
		Equivalent:   s.Equivalent,
	}
}

// RenderSummary writes the summary table.
func RenderSummary(w io.Writer, s Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Evaluation summary")
	t.AppendHeader(table.Row{"Metric", "Count", "Rate"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})

	row := func(name string, n int, rate float64) {
		t.AppendRow(table.Row{name, n, fmt.Sprintf("%.2f%%", rate*100)})
	}
	t.AppendRow(table.Row{"Total cases", s.Total, ""})
	row("Gate pass (pred)", s.GatePassPred, s.Rate(s.GatePassPred))
	row("Gate pass (gold)", s.GatePassGold, s.Rate(s.GatePassGold))
	row("Pred executed", s.ExecutedPred, s.Rate(s.ExecutedPred))
	row("Gold executed", s.ExecutedGold, s.Rate(s.ExecutedGold))
	row("Executed both", s.ExecutedBoth, s.Rate(s.ExecutedBoth))
	row("Execution accuracy", s.Equivalent, s.Accuracy())
	if s.ExecutedBoth > 0 {
		row("Accuracy on executed-both", s.Equivalent, s.ExecutedAccuracy())
	}
	t.Render()
}

var csvHeader = []string{
	"seq", "domain", "question", "status", "reason", "error",
	"pred_raw", "pred_sql", "gold_raw", "gold_sql",
	"pred_cols", "gold_cols", "pred_rows", "gold_rows", "attempts", "duration_ms",
}

// WriteCSV writes one row per case.
func WriteCSV(w io.Writer, results []CaseResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range results {
		record := []string{
			strconv.Itoa(r.Seq), r.Domain, r.Question, string(r.Status), r.Reason, r.Error,
			r.PredRaw, r.PredSQL, r.GoldRaw, r.GoldSQL,
			strings.Join(r.PredColumns, "|"), strings.Join(r.GoldColumns, "|"),
			strconv.Itoa(r.PredRows), strconv.Itoa(r.GoldRows),
			strconv.Itoa(r.Attempts), strconv.FormatInt(r.DurationMS, 10),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Report is the JSON report document.
type Report struct {
	RunID       string       `json:"run_id,omitempty"`
	Policy      string       `json:"policy"`
	SelfCorrect bool         `json:"self_correct"`
	Summary     Summary      `json:"summary"`
	Accuracy    float64      `json:"accuracy"`
	Cases       []CaseResult `json:"cases"`
}

// NewReport assembles the report for a finished batch.
func NewReport(h *Harness, runID string, results []CaseResult) Report {
	s := Summarize(results)
	return Report{
		RunID:       runID,
		Policy:      string(h.Policy()),
		SelfCorrect: h.SelfCorrect(),
		Summary:     s,
		Accuracy:    s.Accuracy(),
		Cases:       results,
	}
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Recorder persists runs and their cases. *state.SQLiteStore satisfies it.
type Recorder interface {
	CreateRun(ctx context.Context, source, generator, policy string, selfCorrect bool) (*state.Run, error)
	SaveCase(ctx context.Context, runID string, c state.Case) error
	CompleteRun(ctx context.Context, id string, status state.RunStatus, counts state.Counts, errMsg string) error
}

// Persist stores a finished batch as one run. runErr is the batch error
// returned by Harness.Run, if any.
func Persist(ctx context.Context, rec Recorder, run *state.Run, results []CaseResult, runErr error) error {
	for _, r := range results {
		if err := rec.SaveCase(ctx, run.ID, toStateCase(r)); err != nil {
			return err
		}
	}

	status, msg := state.RunStatusCompleted, ""
	if runErr != nil {
		status, msg = state.RunStatusCancelled, runErr.Error()
	}
	return rec.CompleteRun(ctx, run.ID, status, Summarize(results).Counts(), msg)
}

func toStateCase(r CaseResult) state.Case {
	return state.Case{
		Seq:        r.Seq,
		Domain:     r.Domain,
		Question:   r.Question,
		Status:     string(r.Status),
		Error:      r.Error,
		Reason:     r.Reason,
		PredRaw:    r.PredRaw,
		PredSQL:    r.PredSQL,
		GoldRaw:    r.GoldRaw,
		GoldSQL:    r.GoldSQL,
		PredRows:   r.PredRows,
		GoldRows:   r.GoldRows,
		Attempts:   r.Attempts,
		DurationMS: r.DurationMS,
	}
}
