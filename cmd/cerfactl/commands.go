package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/AnTengye/cerfaflow/config"
	"github.com/AnTengye/cerfaflow/pkg/fieldmap"
	"github.com/AnTengye/cerfaflow/pkg/logger"
	"github.com/AnTengye/cerfaflow/pkg/pdfform"
	"github.com/AnTengye/cerfaflow/service"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	template   config.TemplateConfig
	logLevel   string
}

func newRootCommand(open pdfform.Opener) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "cerfactl",
		Short:        "Fill and inspect the CERFA apprenticeship template",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger.Init(&logger.Config{Level: opts.logLevel, Format: "text", Output: cmd.ErrOrStderr()})
			return opts.loadConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "server config file to read template settings from")
	flags.StringVar(&opts.template.PDF, "pdf", "cerfa_ apprentissage_10103-14.pdf", "template PDF file name")
	flags.StringVar(&opts.template.Mapping, "mapping", "mapping_complet_v2.json", "field mapping file name")
	flags.StringSliceVar(&opts.template.SearchDirs, "dir", nil, "directories searched for the template files")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newFillCommand(opts, open),
		newResolveCommand(opts),
		newFieldsCommand(opts, open),
		newDebugCommand(opts, open),
	)
	return root
}

// loadConfig takes the template section of the server config unless the
// matching flags were given explicitly.
func (o *options) loadConfig(cmd *cobra.Command) error {
	o.template.Source = config.SourceFS
	if o.configPath == "" {
		return nil
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	flags := cmd.Flags()
	if !flags.Changed("pdf") {
		o.template.PDF = cfg.Template.PDF
	}
	if !flags.Changed("mapping") {
		o.template.Mapping = cfg.Template.Mapping
	}
	if !flags.Changed("dir") {
		o.template.SearchDirs = cfg.Template.SearchDirs
	}
	return nil
}

func (o *options) cerfa(ctx context.Context, open pdfform.Opener) (*service.CerfaService, error) {
	assets, err := service.LoadAssets(ctx, &o.template, nil)
	if err != nil {
		return nil, err
	}
	return service.NewCerfaService(assets, open, nil, nil), nil
}

func (o *options) mapping() (map[string]any, error) {
	path, ok := service.FindFile(o.template.Mapping, service.SearchDirs(o.template.SearchDirs))
	if !ok {
		return nil, fmt.Errorf("%s not found", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mapping, err := service.ParseMapping(context.Background(), raw)
	if err != nil {
		return nil, fmt.Errorf("invalid mapping %s: %w", path, err)
	}
	return fieldmap.FlattenMapping(mapping), nil
}

// dataInput is either one data file or the two party submissions.
type dataInput struct {
	data     string
	student  string
	employer string
}

func (d *dataInput) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.data, "data", "", "business data JSON file")
	cmd.Flags().StringVar(&d.student, "student", "", "student submission JSON file, merged over --employer")
	cmd.Flags().StringVar(&d.employer, "employer", "", "employer submission JSON file")
	cmd.MarkFlagsMutuallyExclusive("data", "student")
	cmd.MarkFlagsMutuallyExclusive("data", "employer")
}

func (d *dataInput) load() (map[string]any, error) {
	if d.data != "" {
		return readJSONObject(d.data)
	}
	if d.student == "" && d.employer == "" {
		return nil, fmt.Errorf("one of --data or --student/--employer is required")
	}

	var student, employer map[string]any
	var err error
	if d.student != "" {
		if student, err = readJSONObject(d.student); err != nil {
			return nil, err
		}
	}
	if d.employer != "" {
		if employer, err = readJSONObject(d.employer); err != nil {
			return nil, err
		}
	}
	return fieldmap.Merge(employer, student), nil
}

func readJSONObject(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, nil
}

func newFillCommand(opts *options, open pdfform.Opener) *cobra.Command {
	var input dataInput
	var out string

	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Fill the template from business data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := input.load()
			if err != nil {
				return err
			}
			cerfa, err := opts.cerfa(cmd.Context(), open)
			if err != nil {
				return err
			}
			gen, err := cerfa.Fill(cmd.Context(), data)
			if err != nil {
				return err
			}
			if out == "" {
				out = gen.Filename
			}
			if err := os.WriteFile(out, gen.PDF, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%d fields filled, written to %s\n", gen.Report.Filled, out)
			for _, name := range gen.Report.Missing() {
				fmt.Fprintf(w, "missing field: %s\n", name)
			}
			return nil
		},
	}
	input.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "output PDF (default "+service.DirectFilename+")")
	return cmd
}

func newResolveCommand(opts *options) *cobra.Command {
	var input dataInput

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the field values the data resolves to, without a PDF",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := input.load()
			if err != nil {
				return err
			}
			mapping, err := opts.mapping()
			if err != nil {
				return err
			}

			pairs := fieldmap.Resolve(fieldmap.Flatten(data), mapping)
			sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
			slog.Debug("resolved", "pairs", len(pairs), "mapped_keys", len(mapping))
			return writeJSON(cmd.OutOrStdout(), pairs)
		},
	}
	input.register(cmd)
	return cmd
}

func newFieldsCommand(opts *options, open pdfform.Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List the form fields of the template with their type",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cerfa, err := opts.cerfa(cmd.Context(), open)
			if err != nil {
				return err
			}
			fields, err := cerfa.Fields()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), fields)
		},
	}
}

func newDebugCommand(opts *options, open pdfform.Opener) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Write a copy of the template with every field labelled by its number",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cerfa, err := opts.cerfa(cmd.Context(), open)
			if err != nil {
				return err
			}
			gen, err := cerfa.DebugPDF(cmd.Context())
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, gen.PDF, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d fields labelled, written to %s\n", gen.Report.Filled, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", service.DebugFilename, "output PDF")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
