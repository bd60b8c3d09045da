package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlpilot/internal/engine"
)

// AskOptions holds options for the ask and repl commands.
type AskOptions struct {
	Format   string
	Quiet    bool
	Attempts bool
}

// NewAskCommand creates the ask command.
func NewAskCommand() *cobra.Command {
	opts := &AskOptions{}

	cmd := &cobra.Command{
		Use:   "ask <domain> <question>",
		Short: "Answer a question with generated SQL",
		Long: `Translate a natural-language question into SQL for one domain,
validate it with the safety gate and execute it. Rejected or failing
statements are fed back to the model until one executes or the retry
budget (max_retries) runs out.`,
		Example: `  sqlpilot ask shop "How many orders were placed in March?"
  sqlpilot ask shop "top 5 customers by revenue" --format json
  sqlpilot ask hr "average salary per department" --attempts`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			domain := args[0]
			if err := cc.requireDomain(domain); err != nil {
				return err
			}

			sess, err := cc.OpenSession(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			question := strings.Join(args[1:], " ")
			return answer(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), sess.Engine, domain, question, cc.format(opts.Format), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: table, json, csv, md (default: output setting)")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "Print only the result, not the SQL")
	cmd.Flags().BoolVar(&opts.Attempts, "attempts", false, "Print the correction history")

	return cmd
}

// answer runs one question and renders its outcome. Failures print the
// attempt history and the last statement to errOut.
func answer(ctx context.Context, out, errOut io.Writer, eng *engine.Engine, domain, question, format string, opts *AskOptions) error {
	outcome, err := eng.Ask(ctx, domain, question)
	if err != nil {
		var exhausted *engine.ExhaustedError
		if errors.As(err, &exhausted) {
			renderAttempts(errOut, exhausted.History)
			if exhausted.LastStatement != "" {
				_, _ = fmt.Fprintf(errOut, "Last statement:\n%s\n", exhausted.LastStatement)
			}
		}
		return err
	}

	format = resolveFormat(format, out)
	if !opts.Quiet && (format == FormatTable || format == FormatMarkdown) {
		_, _ = fmt.Fprintf(out, "%s\n\n", outcome.Statement.SQL())
	}
	if opts.Attempts {
		renderAttempts(errOut, outcome.Attempts)
	}
	return renderResult(out, outcome.Result, format)
}

// format returns the command's format flag, or the configured output mode.
func (c *CommandContext) format(flag string) string {
	if flag != "" {
		return flag
	}
	return c.Cfg.Output
}
