// Command kindops talks to a running kindopsd:
//
//	kindops [--daemon-url URL] [--json] <command> [args]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BegaDeveloper/kindops/internal/cli"
	"github.com/BegaDeveloper/kindops/internal/runtimeconfig"
)

var version = "dev"

const (
	exitSuccess = 0
	exitFailure = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitFailure
	}
	return exitSuccess
}

func newRootCmd() *cobra.Command {
	var daemonURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "kindops",
		Short:         "Manage local kind clusters through kindopsd",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&daemonURL, "daemon-url", "", "kindopsd base URL (default from KINDOPS_DAEMON_URL or config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	resolveURL := func() string {
		if daemonURL != "" {
			return daemonURL
		}
		config, err := runtimeconfig.Load("")
		if err != nil {
			return runtimeconfig.DefaultDaemonURL
		}
		return config.DaemonURL
	}
	clientFn := func() *cli.Client { return cli.NewClient(resolveURL()) }
	outputFn := func() *cli.Output { return cli.NewOutputTo(jsonOutput, rootCmd.OutOrStdout(), rootCmd.ErrOrStderr()) }

	rootCmd.AddCommand(
		cli.NewClusterCmd(clientFn, outputFn),
		cli.NewTaskCmd(clientFn, outputFn),
		cli.NewInspectCmd(clientFn, outputFn),
		cli.NewDetailsCmd(clientFn, outputFn),
		cli.NewResourcesCmd(clientFn, outputFn),
		cli.NewLogsCmd(clientFn, outputFn),
		cli.NewCommandsCmd(clientFn, outputFn),
		newDoctorCmd(resolveURL),
		newConfigCmd(),
	)
	return rootCmd
}
