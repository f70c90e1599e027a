package cmd

import (
	"fmt"

	"github.com/KaramelBytes/sheetloom-cli/internal/ingest"
	"github.com/KaramelBytes/sheetloom-cli/internal/insight"
	"github.com/KaramelBytes/sheetloom-cli/internal/render"
	"github.com/KaramelBytes/sheetloom-cli/internal/schema"
	"github.com/KaramelBytes/sheetloom-cli/internal/utils"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	schemaIngest ingestFlags
	schemaJSON   bool
	schemaYAML   bool
	schemaKPIs   bool
)

var schemaCmd = &cobra.Command{
	Use:   "schema <file>",
	Short: "Infer and print the schema of a CSV/TSV/XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if schemaJSON && schemaYAML {
			return fmt.Errorf("--json and --yaml are mutually exclusive")
		}
		opt, err := schemaIngest.options()
		if err != nil {
			return err
		}
		loaded, err := ingest.Load(args[0], opt)
		if err != nil {
			return err
		}
		sopt := schema.DefaultOptions()
		if c := currentConfig(); c.SampleRows > 0 {
			sopt.SampleRows = c.SampleRows
		}
		s := schema.InferWithOptions(loaded.Dataset, sopt)
		w := cmd.OutOrStdout()

		switch {
		case schemaJSON:
			b, err := utils.PrettyJSON(s)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(b))
		case schemaYAML:
			b, err := yaml.Marshal(s)
			if err != nil {
				return fmt.Errorf("marshal yaml: %w", err)
			}
			fmt.Fprint(w, string(b))
		default:
			fmt.Fprintf(w, "✓ %s (header row %d)\n", loaded.SourceName, loaded.HeaderRow)
			render.Schema(w, s)
			if schemaKPIs {
				fmt.Fprintln(w)
				render.KPIs(w, insight.ComputeKPIs(loaded.Dataset, s))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaIngest.bind(schemaCmd)
	schemaCmd.Flags().BoolVar(&schemaJSON, "json", false, "print the schema as JSON")
	schemaCmd.Flags().BoolVar(&schemaYAML, "yaml", false, "print the schema as YAML")
	schemaCmd.Flags().BoolVar(&schemaKPIs, "kpis", false, "also print dataset KPIs")
}
