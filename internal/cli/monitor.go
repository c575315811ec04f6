package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewMonitorCmd создаёт команду мониторинга задач.
func NewMonitorCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var withStats bool

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Show task progress, next fire times and latest runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			progress, err := client.Monitor()
			if err != nil {
				return err
			}

			var stats *RunStats
			if withStats {
				if stats, err = client.Stats(); err != nil {
					return err
				}
			}

			if out.jsonMode {
				out.JSON(map[string]any{"tasks": progress, "stats": stats})
				return nil
			}

			headers := []string{"TASK", "ENABLED", "NEXT FIRE", "RUNNING", "STATUS", "PROGRESS", "STARTED", "MESSAGE"}
			rows := make([][]string, len(progress))
			for i, p := range progress {
				status := p.Status
				if status == "" {
					status = "-"
				}
				rows[i] = []string{
					p.Name,
					strconv.FormatBool(p.Enabled),
					formatTime(p.NextFireTime),
					strconv.FormatBool(p.Running),
					status,
					formatProgress(p.ProcessedCount, p.TotalCount),
					formatTime(p.StartTime),
					truncate(p.Message, 40),
				}
			}
			out.Table(headers, rows)

			if stats != nil {
				fmt.Fprintf(out.w, "\nToday: %d runs (%d running, %d succeeded, %d failed), %d rows\n",
					stats.Total, stats.Running, stats.Succeeded, stats.Failed, stats.Rows)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withStats, "stats", false, "Include today's run statistics")
	return cmd
}

// NewCronCmd создаёт группу команд для cron-выражений.
func NewCronCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Cron expression helpers",
	}

	var count int
	next := &cobra.Command{
		Use:   "next EXPR",
		Short: "Show the next fire times of a cron expression",
		Example: `  datasync cron next "0 0 * * * ?"
  datasync cron next "*/15 * * * *" --count 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := clientFn().CronNext(args[0], count)
			if err != nil {
				return err
			}

			rows := make([][]string, len(resp.Times))
			for i, t := range resp.Times {
				rows[i] = []string{strconv.Itoa(i + 1), t}
			}
			outputFn().Print([]string{"#", "TIME"}, rows, resp)
			return nil
		},
	}
	next.Flags().IntVar(&count, "count", 5, "Number of fire times")

	cmd.AddCommand(next)
	return cmd
}
