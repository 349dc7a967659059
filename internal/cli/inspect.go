package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewInspectCmd passes a read-only kubectl command through the daemon:
//
//	kindops inspect demo get pods -A
//
// The daemon decides what is allowed; the CLI only joins the words.
func NewInspectCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect CLUSTER KUBECTL_ARGS...",
		Short: "Run a read-only kubectl command (get, describe, logs) against a cluster",
		Args:  cobra.MinimumNArgs(2),
		// Flags after the cluster belong to kubectl.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "-h" || args[0] == "--help" {
				return cmd.Help()
			}
			data, contentType, err := clientFn().Inspect(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			outputFn().Raw(data, contentType)
			return nil
		},
	}
}

func NewResourcesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var namespace string
	var allNamespaces bool

	cmd := &cobra.Command{
		Use:       "resources CLUSTER KIND",
		Short:     "List nodes, pods, services, deployments or namespaces as JSON",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"nodes", "pods", "services", "deployments", "namespaces"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if namespace != "" && allNamespaces {
				return fmt.Errorf("--namespace and --all-namespaces are mutually exclusive")
			}
			data, contentType, err := clientFn().Resource(cmd.Context(), args[0], args[1], namespace, allNamespaces)
			if err != nil {
				return err
			}
			outputFn().Raw(data, contentType)
			return nil
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Namespace to list")
	cmd.Flags().BoolVarP(&allNamespaces, "all-namespaces", "A", false, "List across all namespaces")
	return cmd
}

func NewLogsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	options := LogsOptions{}

	cmd := &cobra.Command{
		Use:   "logs CLUSTER POD",
		Short: "Print or follow a pod's logs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientFn().StreamLogs(cmd.Context(), args[0], args[1], options, outputFn().Writer())
		},
	}
	cmd.Flags().StringVarP(&options.Namespace, "namespace", "n", "", "Pod namespace (default \"default\")")
	cmd.Flags().BoolVarP(&options.Follow, "follow", "f", false, "Keep streaming new lines")
	cmd.Flags().IntVar(&options.Tail, "tail", -1, "Lines of recent log to show; -1 shows all")
	return cmd
}

func NewCommandsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "commands",
		Short: "Show recently executed kind and kubectl commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := clientFn().Commands(cmd.Context(), limit)
			if err != nil {
				return err
			}
			rows := make([][]string, len(entries))
			for index, entry := range entries {
				rows[index] = []string{
					fmt.Sprint(entry.Sequence),
					entry.StartedAt,
					fmt.Sprint(entry.ExitCode),
					fmt.Sprintf("%dms", entry.DurationMS),
					entry.Command,
				}
			}
			outputFn().Print([]string{"SEQ", "STARTED", "EXIT", "DURATION", "COMMAND"}, rows, entries)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries")
	return cmd
}
