package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/KaramelBytes/sheetloom-cli/internal/render"
	"github.com/KaramelBytes/sheetloom-cli/internal/session"
	"github.com/KaramelBytes/sheetloom-cli/internal/state"
	"github.com/KaramelBytes/sheetloom-cli/internal/utils"
	"github.com/spf13/cobra"
)

var (
	askIngest   ingestFlags
	askPipeline pipelineOptions
	askOut      string
	askJSON     bool
	askRows     int
)

var askCmd = &cobra.Command{
	Use:   "ask <file> <command...>",
	Short: "Run one plain-language command against a file",
	Example: `  sheetloom ask sales.csv "remove duplicates"
  sheetloom ask sales.xlsx "top 5 products by revenue" --out top5.xlsx
  sheetloom ask orders.csv "merge with regions on region_id" --table regions=regions.csv`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		command := strings.TrimSpace(strings.Join(args[1:], " "))
		if command == "" {
			return errors.New("command is empty")
		}
		opt, err := askIngest.options()
		if err != nil {
			return err
		}
		c := currentConfig()
		p, err := newPipeline(c, askPipeline, opt, logger)
		if err != nil {
			return err
		}
		defer p.Close()
		sess, err := p.open(args[0], opt)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt)
		defer stop()
		out, err := sess.Run(ctx, command)
		if err != nil {
			return err
		}

		rows := askRows
		if !cmd.Flags().Changed("rows") {
			rows = c.PreviewRows
		}
		w := cmd.OutOrStdout()
		if askJSON {
			if err := writeOutcomeJSON(w, sess, out, rows); err != nil {
				return err
			}
		} else {
			if !out.Success {
				return errors.New(out.Error)
			}
			if err := render.Outcome(w, out, sess.Dataset(), rows); err != nil {
				return err
			}
			printDetails(w, out)
		}

		if askOut != "" && out.Success {
			if err := sess.Export(askOut); err != nil {
				return err
			}
			if !askJSON {
				fmt.Fprintf(w, "✓ Saved %s\n", askOut)
			}
		}
		return nil
	},
}

type outcomeJSON struct {
	session.Outcome
	Preview []map[string]any `json:"preview,omitempty"`
	Summary state.Summary    `json:"summary"`
}

func writeOutcomeJSON(w io.Writer, sess *session.Session, out session.Outcome, rows int) error {
	res := outcomeJSON{Outcome: out, Summary: sess.Snapshot().Summary}
	if out.Applied {
		res.Preview = sess.Dataset().Records(rows)
	}
	b, err := utils.PrettyJSON(res)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// printDetails shows analytic results that do not replace the dataset.
func printDetails(w io.Writer, out session.Outcome) {
	if out.Applied || len(out.Details) == 0 {
		return
	}
	b, err := utils.PrettyJSON(out.Details)
	if err != nil {
		return
	}
	fmt.Fprintln(w, string(b))
}

// runContext is the context commands run under when the caller has none.
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func init() {
	rootCmd.AddCommand(askCmd)
	askIngest.bind(askCmd)
	askPipeline.bind(askCmd)
	askCmd.Flags().StringVar(&askOut, "out", "", "export the resulting dataset (.csv, .tsv or .xlsx)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the outcome as JSON")
	askCmd.Flags().IntVar(&askRows, "rows", 20, "rows to preview (default from config)")
}
