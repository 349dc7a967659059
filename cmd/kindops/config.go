package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/BegaDeveloper/kindops/internal/runtimeconfig"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage ~/.kindops/config.toml",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var path string
	var force bool
	fileConfig := runtimeconfig.FileConfig{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the given values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				resolved, err := runtimeconfig.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = resolved
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := runtimeconfig.Save(path, fileConfig); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Config file path (default ~/.kindops/config.toml)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().StringVar(&fileConfig.Addr, "addr", runtimeconfig.DefaultAddr, "Daemon listen address")
	cmd.Flags().StringVar(&fileConfig.DaemonURL, "daemon-url", runtimeconfig.DefaultDaemonURL, "URL the CLI uses to reach the daemon")
	cmd.Flags().StringVar(&fileConfig.KindBinary, "kind-binary", "", "kind executable")
	cmd.Flags().StringVar(&fileConfig.KubectlBinary, "kubectl-binary", "", "kubectl executable")
	cmd.Flags().StringVar(&fileConfig.LogFormat, "log-format", "", "console or json")
	cmd.Flags().StringVar(&fileConfig.LogLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := runtimeconfig.Load("")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:         %s\n", config.Path)
			fmt.Fprintf(out, "addr:           %s\n", config.Addr)
			fmt.Fprintf(out, "daemon_url:     %s\n", config.DaemonURL)
			fmt.Fprintf(out, "kind_binary:    %s\n", config.KindBinary)
			fmt.Fprintf(out, "kubectl_binary: %s\n", config.KubectlBinary)
			fmt.Fprintf(out, "audit_db:       %s\n", config.AuditDB)
			fmt.Fprintf(out, "temp_dir:       %s\n", config.TempDir)
			fmt.Fprintf(out, "log:            %s/%s\n", config.LogLevel, config.LogFormat)
			return nil
		},
	}
}
