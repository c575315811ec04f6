package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/datasync/internal/mq"
)

// NewTaskCmd создаёт группу команд для управления задачами.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage sync tasks",
	}

	cmd.AddCommand(
		newTaskListCmd(clientFn, outputFn),
		newTaskShowCmd(clientFn, outputFn),
		newTaskRunCmd(clientFn, outputFn),
		newTaskEnabledCmd(clientFn, outputFn, true),
		newTaskEnabledCmd(clientFn, outputFn, false),
		newTaskCopyCmd(clientFn, outputFn),
	)

	return cmd
}

var taskHeaders = []string{"ID", "NAME", "CRON", "ENABLED", "UPDATED"}

func taskRow(t TaskResponse) []string {
	return []string{t.ID, t.Name, t.Cron, strconv.FormatBool(t.Enabled), formatTime(&t.UpdatedAt)}
}

func newTaskListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := clientFn().ListTasks()
			if err != nil {
				return err
			}

			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = taskRow(t)
			}
			outputFn().Print(taskHeaders, rows, tasks)
			return nil
		},
	}
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show task details and its latest run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.GetTask(args[0])
			if err != nil {
				return err
			}

			latest, err := client.LatestRun(args[0])
			if err != nil {
				// у новой задачи run ещё нет
				latest = nil
			}

			if out.jsonMode {
				out.JSON(map[string]any{"task": task, "latest_run": latest})
				return nil
			}

			out.Table(taskHeaders, [][]string{taskRow(*task)})
			if latest != nil {
				fmt.Fprintln(out.w)
				out.Table(runHeaders, [][]string{runRow(*latest)})
			}
			return nil
		},
	}
}

func newTaskRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var queue bool
	var amqpURL string

	cmd := &cobra.Command{
		Use:   "run ID",
		Short: "Run a task now",
		Long: "Run a task outside its schedule. With --queue the request is published\n" +
			"to the sync.requests queue instead of calling the API.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			if queue {
				taskID, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid task id: %w", err)
				}
				if err := enqueueRun(cmd.Context(), amqpURL, taskID); err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Run requested: %s", taskID))
				return nil
			}

			resp, err := clientFn().RunTask(args[0])
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Run started: %s", resp.RunID))
			out.Print([]string{"TASK_ID", "RUN_ID"}, [][]string{{resp.TaskID, resp.RunID}}, resp)
			return nil
		},
	}

	defaultURL := os.Getenv("AMQP_URL")
	if defaultURL == "" {
		defaultURL = mq.DefaultURL
	}
	cmd.Flags().BoolVar(&queue, "queue", false, "Publish a run request to RabbitMQ instead of calling the API")
	cmd.Flags().StringVar(&amqpURL, "amqp-url", defaultURL, "RabbitMQ URL for --queue")

	return cmd
}

// enqueueRun публикует запрос на запуск в очередь sync.requests.
func enqueueRun(ctx context.Context, amqpURL string, taskID uuid.UUID) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conn, err := mq.NewConnection(amqpURL, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := mq.SetupTopology(ctx, conn); err != nil {
		return fmt.Errorf("setup topology: %w", err)
	}
	return mq.NewPublisher(conn, logger).PublishSyncRequest(ctx, taskID)
}

func newTaskEnabledCmd(clientFn func() *Client, outputFn func() *Output, enabled bool) *cobra.Command {
	use, short, verb := "disable ID", "Disable the task schedule", "disabled"
	if enabled {
		use, short, verb = "enable ID", "Enable the task schedule", "enabled"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := clientFn().SetTaskEnabled(args[0], enabled)
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Task %s %s (cron %q)", task.ID, verb, task.Cron))
			return nil
		},
	}
}

func newTaskCopyCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "copy ID",
		Short: "Create a disabled copy of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := clientFn().CopyTask(args[0])
			if err != nil {
				return err
			}
			out := outputFn()
			out.Success(fmt.Sprintf("Task copied: %s", task.ID))
			out.Print(taskHeaders, [][]string{taskRow(*task)}, task)
			return nil
		},
	}
}
