package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task"},
		Short:   "Inspect background tasks",
	}
	cmd.AddCommand(newTaskGetCmd(clientFn, outputFn))
	return cmd
}

func newTaskGetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "get ID",
		Short: "Show a task's status and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()
			if wait {
				return waitAndPrintTask(cmd, client, out, args[0], timeout)
			}
			task, err := client.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTask(out, task)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the task completes or fails")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Maximum time to wait with --wait")
	return cmd
}

func waitAndPrintTask(cmd *cobra.Command, client *Client, out *Output, id string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	task, err := client.WaitTask(ctx, id, taskPollInterval)
	if err != nil {
		return fmt.Errorf("waiting for task %s: %w", id, err)
	}
	printTask(out, task)
	if task.Status == "failed" {
		return fmt.Errorf("task %s failed", id)
	}
	return nil
}

func printTask(out *Output, task *TaskResponse) {
	out.Print(
		[]string{"ID", "SUBJECT", "STATUS", "RESULT", "UPDATED"},
		[][]string{{task.ID, task.Subject, task.Status, task.Result, task.UpdatedAt}},
		task,
	)
}
