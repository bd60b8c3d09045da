package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlpilot/internal/engine"
	"github.com/leapstack-labs/sqlpilot/internal/state"
)

type domainInfo struct {
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	Location  string     `json:"location"`
	Dialect   string     `json:"dialect"`
	Chunks    int        `json:"chunks"`
	IndexedAt *time.Time `json:"indexed_at,omitempty"`
}

// NewDomainsCommand creates the domains command.
func NewDomainsCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "domains",
		Short: "List configured domains",
		Long:  `List the domains configured in sqlpilot.yaml with their backend and schema index status.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}

			indexed := map[string]state.IndexedDomain{}
			if store, err := cc.OpenStore(cmd.Context()); err == nil {
				list, lerr := store.ListIndexedDomains(cmd.Context())
				if lerr != nil {
					cc.Logger.Warn("failed to read schema index", "error", lerr)
				}
				for _, d := range list {
					indexed[d.Domain] = d
				}
				_ = store.Close()
			} else {
				cc.Logger.Warn("state database unavailable", "error", err)
			}

			var infos []domainInfo
			for _, name := range cc.NewExecutor().Domains() {
				target, _ := cc.Cfg.Domain(name)
				info := domainInfo{
					Name:     name,
					Type:     target.Type,
					Location: target.Database,
					Dialect:  engine.DialectLabel(target),
				}
				if !isLocal(target.Type) {
					info.Location = fmt.Sprintf("%s:%d/%s", target.Host, target.Port, target.Database)
				}
				if d, ok := indexed[name]; ok {
					info.Chunks = d.Chunks
					at := d.IndexedAt
					info.IndexedAt = &at
				}
				infos = append(infos, info)
			}

			return renderDomains(cmd.OutOrStdout(), infos, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", FormatTable, "Output format: table, json")
	return cmd
}

func isLocal(typ string) bool {
	return typ == "sqlite" || typ == "duckdb"
}

func renderDomains(w io.Writer, infos []domainInfo, format string) error {
	if format == FormatJSON {
		if infos == nil {
			infos = []domainInfo{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	if len(infos) == 0 {
		_, _ = fmt.Fprintln(w, "No domains configured.\nHint: add a domains section to sqlpilot.yaml")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Domain", "Type", "Location", "Dialect", "Chunks", "Indexed"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 5, Align: text.AlignRight}})
	for _, d := range infos {
		at := "-"
		if d.IndexedAt != nil && !d.IndexedAt.IsZero() {
			at = d.IndexedAt.Local().Format(time.DateTime)
		}
		t.AppendRow(table.Row{d.Name, d.Type, d.Location, d.Dialect, d.Chunks, at})
	}
	t.Render()
	return nil
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var (
		format string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List stored evaluation runs",
		Long: `List evaluation runs recorded by 'sqlpilot eval', newest first.
Given a run ID, show the run's cases instead.`,
		Example: `  sqlpilot runs
  sqlpilot runs 3f2a9c1e-... --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			store, err := cc.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				run, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				cases, err := store.ListCases(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				return renderRunCases(out, run, cases, format)
			}

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return renderRuns(out, runs, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", FormatTable, "Output format: table, json")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	return cmd
}

type runOutput struct {
	ID          string       `json:"id"`
	Source      string       `json:"source"`
	Generator   string       `json:"generator"`
	Policy      string       `json:"policy"`
	SelfCorrect bool         `json:"self_correct"`
	Status      string       `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Counts      state.Counts `json:"counts"`
	Error       string       `json:"error,omitempty"`
}

func toRunOutput(r *state.Run) runOutput {
	return runOutput{
		ID:          r.ID,
		Source:      r.Source,
		Generator:   r.Generator,
		Policy:      r.Policy,
		SelfCorrect: r.SelfCorrect,
		Status:      string(r.Status),
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Counts:      r.Counts,
		Error:       r.Error,
	}
}

func accuracy(c state.Counts) string {
	if c.Total == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", float64(c.Equivalent)/float64(c.Total)*100)
}

func renderRuns(w io.Writer, runs []*state.Run, format string) error {
	if format == FormatJSON {
		out := make([]runOutput, 0, len(runs))
		for _, r := range runs {
			out = append(out, toRunOutput(r))
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Started", "Status", "Source", "Generator", "Policy", "Cases", "Accuracy"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	for _, r := range runs {
		policy := r.Policy
		if r.SelfCorrect {
			policy += "+sc"
		}
		t.AppendRow(table.Row{r.ID, r.StartedAt.Local().Format(time.DateTime), r.Status, r.Source, r.Generator, policy, r.Counts.Total, accuracy(r.Counts)})
	}
	t.Render()
	return nil
}

type caseOutput struct {
	Seq        int    `json:"seq"`
	Domain     string `json:"domain"`
	Question   string `json:"question"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	PredSQL    string `json:"pred_sql"`
	GoldSQL    string `json:"gold_sql"`
	PredRows   int    `json:"pred_rows"`
	GoldRows   int    `json:"gold_rows"`
	Attempts   int    `json:"attempts"`
	DurationMS int64  `json:"duration_ms"`
}

func renderRunCases(w io.Writer, run *state.Run, cases []state.Case, format string) error {
	if format == FormatJSON {
		doc := struct {
			Run   runOutput    `json:"run"`
			Cases []caseOutput `json:"cases"`
		}{Run: toRunOutput(run), Cases: make([]caseOutput, 0, len(cases))}
		for _, c := range cases {
			doc.Cases = append(doc.Cases, caseOutput{
				Seq: c.Seq, Domain: c.Domain, Question: c.Question, Status: c.Status,
				Reason: c.Reason, Error: c.Error, PredSQL: c.PredSQL, GoldSQL: c.GoldSQL,
				PredRows: c.PredRows, GoldRows: c.GoldRows, Attempts: c.Attempts, DurationMS: c.DurationMS,
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	_, _ = fmt.Fprintf(w, "Run %s (%s, %s) accuracy %s\n", run.ID, run.Status, run.Source, accuracy(run.Counts))

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Domain", "Question", "Status", "Reason", "Attempts"})
	for _, c := range cases {
		t.AppendRow(table.Row{c.Seq, c.Domain, oneLine(c.Question, 50), c.Status, c.Reason, c.Attempts})
	}
	t.Render()
	return nil
}
