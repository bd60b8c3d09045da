package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leapstack-labs/sqlpilot/pkg/adapter"
	"github.com/leapstack-labs/sqlpilot/pkg/guard"
)

// StatementOptions holds options for the check and run commands.
type StatementOptions struct {
	Format  string
	Input   string
	Domain  string
	Dialect string
}

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	opts := &StatementOptions{}

	cmd := &cobra.Command{
		Use:   "check [SQL]",
		Short: "Validate a statement with the safety gate",
		Long: `Run a statement through the safety gate without executing it.

Prints the statement as it would be executed (with its row cap enforced)
or the reason it was rejected. The statement is read from the arguments,
--input, or standard input.`,
		Example: `  sqlpilot check "SELECT * FROM orders"
  sqlpilot check --domain shop -i query.sql
  echo "DELETE FROM t" | sqlpilot check --dialect mysql`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}

			dialect := cc.Cfg.Dialect
			if opts.Dialect != "" {
				dialect = opts.Dialect
			}
			if opts.Domain != "" {
				target, ok := cc.Cfg.Domain(opts.Domain)
				if !ok {
					return cc.requireDomain(opts.Domain)
				}
				dialect = target.Type
			}

			text, err := readStatement(cmd, args, opts.Input)
			if err != nil {
				return err
			}

			gate := guard.New(guard.Options{Dialect: guard.ParseDialect(dialect), MaxRows: cc.Cfg.MaxRows, Logger: cc.Logger})
			stmt, verr := gate.Validate(text, 0)
			if err := renderCheck(cmd.OutOrStdout(), stmt, verr, opts.Format); err != nil {
				return err
			}
			return verr
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", FormatTable, "Output format: table, json")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read SQL from file")
	cmd.Flags().StringVarP(&opts.Domain, "domain", "d", "", "Validate with the dialect of a configured domain")
	cmd.Flags().StringVar(&opts.Dialect, "dialect", "", "Validate with a dialect (postgres, duckdb, sqlite, mysql)")

	return cmd
}

type checkOutput struct {
	OK      bool   `json:"ok"`
	SQL     string `json:"sql,omitempty"`
	Cap     int    `json:"cap,omitempty"`
	Dialect string `json:"dialect,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func renderCheck(w io.Writer, stmt guard.SafeStatement, verr error, format string) error {
	out := checkOutput{OK: verr == nil}
	if verr == nil {
		out.SQL, out.Cap, out.Dialect = stmt.SQL(), stmt.Cap(), string(stmt.Dialect())
	} else {
		out.Message = verr.Error()
		var rej *guard.Rejection
		if errors.As(verr, &rej) {
			out.Reason = string(rej.Reason)
			out.Message = rej.Detail
		}
	}

	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if out.OK {
		_, _ = fmt.Fprintf(w, "OK (%s, row cap %d)\n%s\n", out.Dialect, out.Cap, out.SQL)
		return nil
	}
	_, _ = fmt.Fprintf(w, "REJECTED %s: %s\n", out.Reason, out.Message)
	return nil
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &StatementOptions{}

	cmd := &cobra.Command{
		Use:   "run <domain> [SQL]",
		Short: "Validate and execute a statement",
		Long: `Run a hand-written statement through the safety gate and execute it
against a domain. The statement is read from the arguments, --input, or
standard input.`,
		Example: `  sqlpilot run shop "SELECT status, count(*) FROM orders GROUP BY status"
  sqlpilot run shop -i report.sql --format csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			domain := args[0]
			target, ok := cc.Cfg.Domain(domain)
			if !ok {
				return cc.requireDomain(domain)
			}

			text, err := readStatement(cmd, args[1:], opts.Input)
			if err != nil {
				return err
			}

			gate := guard.New(guard.Options{Dialect: adapter.DialectFor(target.Type), MaxRows: cc.Cfg.MaxRows, Logger: cc.Logger})
			stmt, err := gate.Validate(text, 0)
			if err != nil {
				return err
			}

			exec := cc.NewExecutor()
			defer func() { _ = exec.Close() }()

			res, err := exec.Execute(cmd.Context(), domain, stmt, stmt.Cap())
			if err != nil {
				return err
			}
			return renderResult(cmd.OutOrStdout(), res, cc.format(opts.Format))
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Output format: table, json, csv, md (default: output setting)")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read SQL from file")

	return cmd
}

// readStatement takes the statement from args, a file, or piped input.
func readStatement(cmd *cobra.Command, args []string, input string) (string, error) {
	var text string
	switch {
	case len(args) > 0:
		text = strings.Join(args, " ")
	case input != "":
		content, err := os.ReadFile(input) //nolint:gosec // user-provided statement file
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
		text = string(content)
	default:
		in := cmd.InOrStdin()
		if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // fd fits in int
			return "", errors.New("no statement given (pass it as an argument, with --input, or on stdin)")
		}
		content, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(content)
	}

	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty statement")
	}
	return text, nil
}
