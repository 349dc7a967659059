package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const taskPollInterval = time.Second

func NewClusterCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "clusters",
		Aliases: []string{"cluster"},
		Short:   "Create, list and delete kind clusters",
	}
	cmd.AddCommand(
		newClusterListCmd(clientFn, outputFn),
		newClusterCreateCmd(clientFn, outputFn),
		newClusterDeleteCmd(clientFn, outputFn),
		NewDetailsCmd(clientFn, outputFn),
	)
	return cmd
}

func newClusterListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List kind clusters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			clusters, err := clientFn().ListClusters(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, len(clusters))
			for index, cluster := range clusters {
				rows[index] = []string{cluster.Name}
			}
			outputFn().Print([]string{"NAME"}, rows, clusters)
			return nil
		},
	}
}

func newClusterCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var nodeVersion string
	var workers int
	var configPath string
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Queue creation of a kind cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			request := CreateClusterRequest{ClusterName: args[0], NodeVersion: nodeVersion}
			if cmd.Flags().Changed("workers") {
				request.NumWorkers = &workers
			}
			if configPath != "" {
				raw, err := os.ReadFile(configPath)
				if err != nil {
					return fmt.Errorf("read kind config: %w", err)
				}
				request.Config = string(raw)
			}

			accepted, err := client.CreateCluster(cmd.Context(), request)
			if err != nil {
				return err
			}
			out.Success(accepted.Message)
			if !wait {
				out.Print([]string{"TASK_ID"}, [][]string{{accepted.TaskID}}, accepted)
				return nil
			}
			return waitAndPrintTask(cmd, client, out, accepted.TaskID, timeout)
		},
	}
	cmd.Flags().StringVar(&nodeVersion, "node-version", "", "Kubernetes node image version, e.g. 1.29.2")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of worker nodes")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to a kind cluster config file (overrides --workers)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the creation task to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Maximum time to wait with --wait")
	return cmd
}

func newClusterDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var assumeYes bool

	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a kind cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !assumeYes && !Confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("Delete cluster %q?", args[0])) {
				return fmt.Errorf("aborted")
			}
			message, err := clientFn().DeleteCluster(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			outputFn().Success(message)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func NewDetailsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "details NAME",
		Short: "Summarize nodes, pods, services and deployments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := clientFn().ClusterDetails(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			summary := details.PodSummary
			outputFn().Print(
				[]string{"NODES", "RUNNING", "PENDING", "SUCCEEDED", "FAILED", "SERVICES", "DEPLOYMENTS"},
				[][]string{{
					fmt.Sprint(details.NodeCount),
					fmt.Sprint(summary.Running),
					fmt.Sprint(summary.Pending),
					fmt.Sprint(summary.Succeeded),
					fmt.Sprint(summary.Failed),
					fmt.Sprint(details.ServiceCount),
					fmt.Sprint(details.DeploymentCount),
				}},
				details,
			)
			return nil
		},
	}
}
