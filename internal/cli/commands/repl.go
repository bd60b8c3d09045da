package commands

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

// NewReplCommand creates the repl command.
func NewReplCommand() *cobra.Command {
	opts := &AskOptions{}

	cmd := &cobra.Command{
		Use:   "repl <domain>",
		Short: "Ask questions interactively",
		Long: `Start an interactive session against one domain. Every line is a
question; lines starting with a dot are session commands (.help).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			if err := cc.requireDomain(args[0]); err != nil {
				return err
			}
			return runREPL(cmd, cc, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", FormatTable, "Output format: table, json, csv, md")
	cmd.Flags().BoolVar(&opts.Attempts, "attempts", false, "Print the correction history of every question")

	return cmd
}

func runREPL(cmd *cobra.Command, cc *CommandContext, domain string, opts *AskOptions) error {
	ctx := cmd.Context()
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	sess, err := cc.OpenSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	// Project-local history next to the state database
	historyFile := filepath.Join(filepath.Dir(cc.Cfg.StatePath), "repl_history")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          promptFor(domain),
		HistoryFile:     historyFile,
		AutoComplete:    newDomainCompleter(cc.NewExecutor().Domains()),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintf(out, "sqlpilot REPL (domain: %s, generator: %s)\n", domain, sess.Generator.Name())
	_, _ = fmt.Fprintln(out, "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(out)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".") {
			quit, next := handleDotCommand(out, errOut, cc, line, domain)
			if quit {
				break
			}
			if next != domain {
				domain = next
				rl.SetPrompt(promptFor(domain))
			}
			continue
		}

		if err := answer(ctx, out, errOut, sess.Engine, domain, line, opts.Format, opts); err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		}
		_, _ = fmt.Fprintln(out)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return nil
}

func promptFor(domain string) string {
	return domain + "> "
}

// handleDotCommand runs a session command. It returns whether to quit and
// the domain to continue with.
func handleDotCommand(out, errOut io.Writer, cc *CommandContext, line, domain string) (bool, string) {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])

	switch command {
	case ".quit", ".exit":
		return true, domain

	case ".help":
		printREPLHelp(out)

	case ".domains":
		for _, name := range cc.NewExecutor().Domains() {
			marker := " "
			if name == domain {
				marker = "*"
			}
			_, _ = fmt.Fprintf(out, "%s %s\n", marker, name)
		}

	case ".use":
		if len(parts) < 2 {
			_, _ = fmt.Fprintln(errOut, "Usage: .use <domain>")
			break
		}
		if err := cc.requireDomain(parts[1]); err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
			break
		}
		return false, parts[1]

	case ".clear":
		_, _ = fmt.Fprint(out, "\033[H\033[2J")

	default:
		_, _ = fmt.Fprintf(errOut, "Unknown command: %s (type .help for commands)\n", command)
	}
	return false, domain
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help           Show this help message
  .domains        List configured domains
  .use <domain>   Switch to another domain
  .clear          Clear the screen
  .quit / .exit   Exit the REPL

Tips:
  - Every other line is sent as a question
  - Use arrow keys to navigate history
`
	_, _ = fmt.Fprintln(w, help)
}

// newDomainCompleter completes session commands and domain names.
func newDomainCompleter(domains []string) *readline.PrefixCompleter {
	names := make([]readline.PrefixCompleterInterface, 0, len(domains))
	for _, d := range domains {
		names = append(names, readline.PcItem(d))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".domains"),
		readline.PcItem(".use", names...),
		readline.PcItem(".clear"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
