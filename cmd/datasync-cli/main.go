// datasync CLI — инструмент командной строки для управления
// задачами синхронизации и просмотра runs через HTTP API.
//
// Использование:
//
//	datasync [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	task     Управление задачами
//	run      Просмотр runs
//	monitor  Состояние задач
//	cron     Проверка cron-выражений
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/datasync/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	defaultURL := os.Getenv("DATASYNC_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}

	rootCmd := &cobra.Command{
		Use:           "datasync",
		Short:         "datasync CLI — database synchronization tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewTaskCmd(clientFn, outputFn),
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewMonitorCmd(clientFn, outputFn),
		cli.NewCronCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
