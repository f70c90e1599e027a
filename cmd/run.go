package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/KaramelBytes/sheetloom-cli/internal/render"
	"github.com/KaramelBytes/sheetloom-cli/internal/session"
	"github.com/spf13/cobra"
)

var (
	runIngest   ingestFlags
	runPipeline pipelineOptions
	runRows     int
)

const replHelp = `Type a command in plain language, or one of:
  :undo          revert the last change
  :redo          reapply the last undone change
  :state         show the state summary
  :log [n]       show the last n operations (default 10)
  :schema        show the current schema
  :kpis          show dataset KPIs
  :show [n]      preview the first n rows
  :save <path>   export to .csv, .tsv or .xlsx
  :help          show this help
  :quit          exit`

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Start an interactive session on a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opt, err := runIngest.options()
		if err != nil {
			return err
		}
		c := currentConfig()
		p, err := newPipeline(c, runPipeline, opt, logger)
		if err != nil {
			return err
		}
		defer p.Close()
		sess, err := p.open(args[0], opt)
		if err != nil {
			return err
		}
		rows := runRows
		if !cmd.Flags().Changed("rows") {
			rows = c.PreviewRows
		}
		r := &repl{sess: sess, in: cmd.InOrStdin(), out: cmd.OutOrStdout(), rows: rows}
		return r.loop(cmd)
	},
}

type repl struct {
	sess *session.Session
	in   io.Reader
	out  io.Writer
	rows int
}

func (r *repl) loop(cmd *cobra.Command) error {
	sum := r.sess.Snapshot().Summary
	fmt.Fprintf(r.out, "✓ Loaded %s: %d rows, %d columns. Type :help for commands.\n", sum.Filename, sum.Rows, sum.Columns)
	sc := bufio.NewScanner(r.in)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(r.out, "sheetloom> ")
		if !sc.Scan() {
			fmt.Fprintln(r.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			quit, err := r.meta(line)
			if err != nil {
				fmt.Fprintf(r.out, "✗ %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}
		out, err := r.sess.Run(runContext(cmd), line)
		if err != nil {
			return err
		}
		if err := render.Outcome(r.out, out, r.sess.Dataset(), r.rows); err != nil {
			return err
		}
		printDetails(r.out, out)
	}
}

// meta handles a ":" command and reports whether the loop should end.
func (r *repl) meta(line string) (bool, error) {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "quit", "exit", "q":
		return true, nil
	case "help", "h", "?":
		fmt.Fprintln(r.out, replHelp)
	case "undo":
		if !r.sess.Undo() {
			fmt.Fprintln(r.out, "⚠ Nothing to undo")
			return false, nil
		}
		fmt.Fprintln(r.out, "✓ Undone")
		render.Summary(r.out, r.sess.Snapshot().Summary)
	case "redo":
		if !r.sess.Redo() {
			fmt.Fprintln(r.out, "⚠ Nothing to redo")
			return false, nil
		}
		fmt.Fprintln(r.out, "✓ Redone")
		render.Summary(r.out, r.sess.Snapshot().Summary)
	case "state":
		render.Summary(r.out, r.sess.Snapshot().Summary)
	case "log":
		n, err := optionalInt(arg, 10)
		if err != nil {
			return false, err
		}
		render.Log(r.out, r.sess.Log(n))
	case "schema":
		render.Schema(r.out, r.sess.Schema())
	case "kpis":
		render.KPIs(r.out, r.sess.Snapshot().KPIs)
	case "show":
		n, err := optionalInt(arg, r.rows)
		if err != nil {
			return false, err
		}
		return false, render.Dataset(r.out, r.sess.Dataset(), n, render.FormatTable)
	case "save":
		if arg == "" {
			return false, fmt.Errorf("usage: :save <path>")
		}
		if err := r.sess.Export(arg); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "✓ Saved %s\n", arg)
	default:
		return false, fmt.Errorf("unknown command :%s (try :help)", name)
	}
	return false, nil
}

func optionalInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number: %s", s)
	}
	return n, nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	runIngest.bind(runCmd)
	runPipeline.bind(runCmd)
	runCmd.Flags().IntVar(&runRows, "rows", 20, "rows to preview after each command (default from config)")
}
