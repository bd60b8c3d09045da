package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlpilot/internal/eval"
	"github.com/leapstack-labs/sqlpilot/internal/state"
	"github.com/leapstack-labs/sqlpilot/pkg/compare"
)

// EvalOptions holds options for the eval command.
type EvalOptions struct {
	CSVPath  string
	JSONPath string
	NoStore  bool
	Limit    int
}

// NewEvalCommand creates the eval command.
func NewEvalCommand() *cobra.Command {
	opts := &EvalOptions{}

	cmd := &cobra.Command{
		Use:   "eval <cases.jsonl>",
		Short: "Evaluate generated SQL against gold SQL",
		Long: `Run a batch of {domain, question, gold_sql} cases. Each case is
generated, gated, executed next to its gold statement and compared by
result equivalence. One failing case never stops the batch.

The run and every case are stored in the state database unless --no-store
is given; 'sqlpilot runs' lists stored runs.`,
		Example: `  sqlpilot eval cases.jsonl
  sqlpilot eval cases.jsonl --workers 8 --policy strict --csv out.csv
  sqlpilot eval cases.jsonl --self-correct --json report.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			return runEval(cmd, cc, args[0], opts)
		},
	}

	cmd.Flags().Int("workers", 0, "Cases evaluated concurrently (default: eval.workers)")
	cmd.Flags().String("policy", "", "Comparison policy: lenient or strict (default: eval.policy)")
	cmd.Flags().Int("decimals", 0, "Rounding precision of numeric columns (default: eval.decimals)")
	cmd.Flags().Bool("self-correct", false, "Run predictions through the correction loop")
	cmd.Flags().StringVar(&opts.CSVPath, "csv", "", "Write per-case results as CSV")
	cmd.Flags().StringVar(&opts.JSONPath, "json", "", "Write the full report as JSON")
	cmd.Flags().BoolVar(&opts.NoStore, "no-store", false, "Do not record the run in the state database")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Evaluate only the first N cases")

	return cmd
}

func runEval(cmd *cobra.Command, cc *CommandContext, path string, opts *EvalOptions) error {
	ctx := cmd.Context()
	cfg := cc.Cfg

	cases, err := eval.LoadCases(path)
	if err != nil {
		return err
	}
	if opts.Limit > 0 && opts.Limit < len(cases) {
		cases = cases[:opts.Limit]
	}

	policy, err := compare.ParsePolicy(cfg.Eval.Policy)
	if err != nil {
		return err
	}

	sess, err := cc.OpenSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	h, err := eval.New(eval.Options{
		Engine:         sess.Engine,
		Runner:         sess.Executor,
		Checker:        compare.NewChecker(policy, compare.Options{Decimals: cfg.Eval.Decimals}),
		Workers:        cfg.Eval.Workers,
		SelfCorrect:    cfg.Eval.SelfCorrect,
		ExecuteTimeout: cfg.Timeouts.Execute,
		Logger:         cc.Logger,
	})
	if err != nil {
		return err
	}

	var run *state.Run
	if !opts.NoStore {
		run, err = sess.Store.CreateRun(ctx, path, sess.Generator.Name(), string(policy), cfg.Eval.SelfCorrect)
		if err != nil {
			return err
		}
	}

	cc.Logger.Info("evaluation started", "cases", len(cases), "workers", cfg.Eval.Workers, "policy", policy)
	results, runErr := h.Run(ctx, cases)

	// Partial results of a cancelled batch are still recorded.
	saveCtx := context.WithoutCancel(ctx)
	runID := ""
	if run != nil {
		runID = run.ID
		if err := eval.Persist(saveCtx, sess.Store, run, results, runErr); err != nil {
			return fmt.Errorf("failed to store run: %w", err)
		}
	}

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error { return eval.WriteCSV(w, results) }); err != nil {
			return err
		}
	}
	if opts.JSONPath != "" {
		report := eval.NewReport(h, runID, results)
		if err := writeFile(opts.JSONPath, func(w io.Writer) error { return eval.WriteJSON(w, report) }); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	eval.RenderSummary(out, eval.Summarize(results))
	if runID != "" {
		_, _ = fmt.Fprintf(out, "Run %s stored in %s\n", runID, cfg.StatePath)
	}
	return runErr
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path) //nolint:gosec // user-provided report path
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
