package main

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BegaDeveloper/kindops/internal/cli"
	"github.com/BegaDeveloper/kindops/internal/runtimeconfig"
)

type doctorCheck struct {
	name    string
	ok      bool
	details string
}

func newDoctorCmd(resolveURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that kind, kubectl, docker and kindopsd are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := runtimeconfig.Load("")
			if err != nil {
				return err
			}
			checks := []doctorCheck{
				checkBinary("kind", config.KindBinary),
				checkBinary("kubectl", config.KubectlBinary),
				checkBinary("docker", "docker"),
				checkDaemonHealth(cmd.Context(), resolveURL()),
			}
			return reportDoctor(cmd.OutOrStdout(), cmd.ErrOrStderr(), checks)
		},
	}
}

func reportDoctor(output io.Writer, errorOutput io.Writer, checks []doctorCheck) error {
	hasFailure := false
	for _, check := range checks {
		status := "PASS"
		if !check.ok {
			status = "FAIL"
			hasFailure = true
		}
		fmt.Fprintf(output, "[%s] %s: %s\n", status, check.name, check.details)
	}
	if hasFailure {
		fmt.Fprintln(errorOutput, "")
		fmt.Fprintln(errorOutput, "kindops doctor found problems.")
		fmt.Fprintln(errorOutput, "Fix the failing checks and rerun: kindops doctor")
		return fmt.Errorf("one or more doctor checks failed")
	}
	fmt.Fprintln(output, "")
	fmt.Fprintln(output, "kindops doctor passed: tools are installed and the daemon is healthy.")
	return nil
}

func checkBinary(name string, binary string) doctorCheck {
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return doctorCheck{
			name:    name + " binary",
			ok:      false,
			details: fmt.Sprintf("%q not found on PATH", binary),
		}
	}
	return doctorCheck{name: name + " binary", ok: true, details: resolved}
}

func checkDaemonHealth(ctx context.Context, daemonURL string) doctorCheck {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := cli.NewClient(daemonURL).Health(ctx); err != nil {
		return doctorCheck{
			name:    "daemon health",
			ok:      false,
			details: fmt.Sprintf("%s/health: %v (start it with kindopsd)", strings.TrimRight(daemonURL, "/"), err),
		}
	}
	return doctorCheck{name: "daemon health", ok: true, details: "daemon is reachable and healthy"}
}
