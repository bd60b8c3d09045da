// Package cli provides the command-line interface for sqlpilot.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqlpilot/internal/cli/commands"
	"github.com/leapstack-labs/sqlpilot/internal/config"
	"github.com/leapstack-labs/sqlpilot/internal/retrieval"

	// Register the database backends a domain can point at.
	_ "github.com/leapstack-labs/sqlpilot/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/sqlpilot/pkg/adapters/mysql"
	_ "github.com/leapstack-labs/sqlpilot/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/sqlpilot/pkg/adapters/sqlite"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// skipConfig reports whether a command runs without a loaded configuration.
func skipConfig(name string) bool {
	switch name {
	case "help", "completion", "version", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	return false
}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "sqlpilot",
		Short: "sqlpilot - natural-language questions to safe, verified SQL",
		Long: `sqlpilot turns natural-language questions into read-only SQL for the
databases configured as domains. Every generated statement passes a safety
gate before it runs, failures are fed back to the model for correction, and
'sqlpilot eval' measures accuracy against gold SQL by result equivalence.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfig(cmd.Name()) {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
			if cfg.File != "" {
				logger.Debug("using config file", "path", cfg.File)
			}

			ctx := config.WithConfig(cmd.Context(), cfg)
			ctx = config.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: sqlpilot.yaml in this or a parent directory)")
	pf.BoolP("verbose", "v", false, "Verbose output")
	pf.StringP("output", "o", "", "Result format (auto|table|json|csv|md)")
	pf.String("state", "", "Path to state database")
	pf.Int("max-rows", 0, "Row cap applied to every statement")
	pf.Int("max-retries", 0, "Correction attempts after the first generation")
	pf.Int("top-k", 0, "Schema chunks retrieved into the prompt")
	pf.String("retrieval", "", "Schema retrieval mode (fts|embedding)")
	pf.String("examples-dir", "", "Directory of few-shot example files")
	pf.String("provider", "", "Generator provider (ollama|gemini)")
	pf.String("model", "", "Generator model name")
	pf.String("generator-url", "", "Generator endpoint URL")
	pf.Duration("generate-timeout", 0, "Timeout of one generation call")
	pf.Duration("execute-timeout", 0, "Timeout of one statement execution")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return config.OutputModes, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("retrieval", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return retrieval.Modes, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("provider", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"ollama", "gemini"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version, GitCommit, BuildDate))
	rootCmd.AddCommand(commands.NewAskCommand())
	rootCmd.AddCommand(commands.NewReplCommand())
	rootCmd.AddCommand(commands.NewCheckCommand())
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewEvalCommand())
	rootCmd.AddCommand(commands.NewIndexCommand())
	rootCmd.AddCommand(commands.NewSchemaCommand())
	rootCmd.AddCommand(commands.NewDomainsCommand())
	rootCmd.AddCommand(commands.NewRunsCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// newLogger writes text logs to w. Warnings and errors only, unless verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for sqlpilot.

To load completions:

Bash:
  $ source <(sqlpilot completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ sqlpilot completion bash > /etc/bash_completion.d/sqlpilot
  # macOS:
  $ sqlpilot completion bash > $(brew --prefix)/etc/bash_completion.d/sqlpilot

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ sqlpilot completion zsh > "${fpath[1]}/_sqlpilot"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ sqlpilot completion fish | source

  # To load completions for each session, execute once:
  $ sqlpilot completion fish > ~/.config/fish/completions/sqlpilot.fish

PowerShell:
  PS> sqlpilot completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> sqlpilot completion powershell > sqlpilot.ps1
  # and source this file from your PowerShell profile.
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
