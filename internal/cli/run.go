package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для просмотра runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
	)

	return cmd
}

var runHeaders = []string{"ID", "TASK", "STATUS", "PROGRESS", "STARTED", "DURATION", "MESSAGE"}

func runRow(r RunResponse) []string {
	duration := "-"
	if r.EndTime != nil {
		duration = strconv.FormatInt(r.DurationMs, 10) + "ms"
	}
	return []string{
		r.ID,
		r.TaskName,
		r.Status,
		formatProgress(r.ProcessedCount, r.TotalCount),
		formatTime(&r.StartTime),
		duration,
		truncate(r.Message, 60),
	}
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var taskID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(ListRunsOpts{
				TaskID: taskID,
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runRow(r)
			}
			outputFn().Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskID, "task-id", "", "Filter by task ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (RUNNING, SUCCESS, FAILURE)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details with the node trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			run, err := clientFn().GetRun(args[0])
			if err != nil {
				return err
			}
			if out.jsonMode {
				out.JSON(run)
				return nil
			}

			out.Table(runHeaders, [][]string{runRow(*run)})
			if run.Message != "" {
				fmt.Fprintf(out.w, "\nMessage: %s\n", run.Message)
			}
			if len(run.Trace) == 0 {
				return nil
			}

			fmt.Fprintln(out.w)
			rows := make([][]string, len(run.Trace))
			for i, e := range run.Trace {
				rows[i] = []string{
					e.NodeID,
					e.NodeType,
					e.NodeName,
					strconv.FormatInt(e.RowCount, 10),
					strconv.FormatInt(e.DurationMs, 10) + "ms",
				}
			}
			out.Table([]string{"NODE", "TYPE", "NAME", "ROWS", "DURATION"}, rows)
			return nil
		},
	}
}
