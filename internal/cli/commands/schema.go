package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/sqlpilot/internal/retrieval"
	"github.com/leapstack-labs/sqlpilot/internal/schema"
	"github.com/leapstack-labs/sqlpilot/internal/state"
)

// IndexOptions holds options for the index command.
type IndexOptions struct {
	Domain string
	Live   []string
}

// NewIndexCommand creates the index command.
func NewIndexCommand() *cobra.Command {
	opts := &IndexOptions{}

	cmd := &cobra.Command{
		Use:   "index [schema-file...]",
		Short: "Build the schema retrieval index",
		Long: `Ingest schema documents (YAML or JSON) and store one chunk per table
plus a relationships chunk in the full-text index used for prompt context.
Re-indexing a domain replaces its previous chunks.

With retrieval.mode: embedding every chunk is also embedded with the
generator provider's embedding model and questions are ranked by cosine
distance instead of full-text relevance.

The domain of a file is taken from its 'domain' key or its file name.
With --live the schema is read from the configured domain itself.`,
		Example: `  sqlpilot index schemas/shop.yaml schemas/hr.json
  sqlpilot index export.yaml --domain shop
  sqlpilot index --live shop --live hr`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(opts.Live) == 0 {
				return errors.New("give at least one schema file or --live domain")
			}
			if opts.Domain != "" && len(args) > 1 {
				return errors.New("--domain applies to a single schema file")
			}
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			return runIndex(cmd, cc, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Domain, "domain", "d", "", "Domain name for a single schema file")
	cmd.Flags().StringArrayVar(&opts.Live, "live", nil, "Extract and index the schema of a configured domain")

	return cmd
}

func runIndex(cmd *cobra.Command, cc *CommandContext, files []string, opts *IndexOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var schemas []*schema.Schema
	for _, path := range files {
		s, err := schema.Load(path)
		if err != nil {
			return err
		}
		if opts.Domain != "" {
			s.Domain = opts.Domain
		}
		schemas = append(schemas, s)
	}

	if len(opts.Live) > 0 {
		exec := cc.NewExecutor()
		defer func() { _ = exec.Close() }()
		for _, domain := range opts.Live {
			adp, err := exec.Adapter(ctx, domain)
			if err != nil {
				return err
			}
			s, err := schema.Extract(ctx, adp, domain, cc.Logger)
			if err != nil {
				return err
			}
			schemas = append(schemas, s)
		}
	}

	store, err := cc.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if cc.Cfg.Retrieval.Mode != retrieval.ModeEmbedding {
		return indexSchemas(ctx, out, cc, store, nil, "", schemas)
	}
	emb, err := cc.NewEmbedder(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = emb.Close() }()
	return indexSchemas(ctx, out, cc, store, emb, emb.Name(), schemas)
}

// indexSchemas stores the chunks of each schema and, when emb is set, their
// embeddings under model.
func indexSchemas(ctx context.Context, out io.Writer, cc *CommandContext, store *state.SQLiteStore, emb retrieval.Embedder, model string, schemas []*schema.Schema) error {
	for _, s := range schemas {
		if _, ok := cc.Cfg.Domain(s.Domain); !ok {
			cc.Logger.Warn("indexing a domain that is not configured", "domain", s.Domain)
		}
		chunks := s.Chunks()
		if err := store.ReplaceChunks(ctx, s.Domain, chunks); err != nil {
			return err
		}
		if emb == nil {
			_, _ = fmt.Fprintf(out, "Indexed %s: %d tables, %d chunks\n", s.Domain, len(s.Tables), len(chunks))
			continue
		}

		n, err := retrieval.IndexEmbeddings(ctx, store, emb, model, s.Domain, chunks)
		if err != nil {
			return err
		}
		cc.Logger.Info("schema embedded", "domain", s.Domain, "model", model, "vectors", n)
		_, _ = fmt.Fprintf(out, "Indexed %s: %d tables, %d chunks, %d vectors (%s)\n", s.Domain, len(s.Tables), len(chunks), n, model)
	}
	return nil
}

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect domain schemas",
	}
	cmd.AddCommand(newSchemaExtractCommand())
	return cmd
}

func newSchemaExtractCommand() *cobra.Command {
	var format, outPath string

	cmd := &cobra.Command{
		Use:   "extract <domain>",
		Short: "Dump the live schema of a domain",
		Long: `Read table, column, key and foreign-key metadata from a configured
domain and print it in the canonical schema format accepted by 'index'.`,
		Example: `  sqlpilot schema extract shop > schemas/shop.json
  sqlpilot schema extract shop --format yaml --out schemas/shop.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			if err := cc.requireDomain(args[0]); err != nil {
				return err
			}

			exec := cc.NewExecutor()
			defer func() { _ = exec.Close() }()

			adp, err := exec.Adapter(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			s, err := schema.Extract(cmd.Context(), adp, args[0], cc.Logger)
			if err != nil {
				return err
			}

			write := func(w io.Writer) error { return encodeSchema(w, s, format) }
			if outPath != "" {
				return writeFile(outPath, write)
			}
			return write(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", FormatJSON, "Output format: json, yaml")
	cmd.Flags().StringVar(&outPath, "out", "", "Write to a file instead of stdout")

	return cmd
}

func encodeSchema(w io.Writer, s *schema.Schema, format string) error {
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	return fmt.Errorf("unknown schema format %q (want json or yaml)", format)
}
