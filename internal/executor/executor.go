package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/BegaDeveloper/kindops/internal/security"
)

const (
	exitCodeNotFound = 127
	exitCodeCanceled = 130
	stderrLogMaxSize = 2000
)

// KillGracePeriod is how long a canceled command may keep its output pipes
// open, for example through a surviving grandchild, before Wait gives up.
const KillGracePeriod = 2 * time.Second

// Command is an argument vector. It is never handed to a shell.
type Command struct {
	Program string
	Args    []string
}

func NewCommand(program string, args ...string) Command {
	return Command{Program: program, Args: append([]string(nil), args...)}
}

func (command Command) String() string {
	return security.JoinCommand(command.Program, command.Args)
}

type Result struct {
	Command    string `json:"command"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
}

// Err reports a nonzero exit as an *ExecutionError.
func (result Result) Err() error {
	if result.ExitCode == 0 {
		return nil
	}
	return &ExecutionError{Command: result.Command, ExitCode: result.ExitCode, Stderr: result.Stderr}
}

type ExecutionError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (executionError *ExecutionError) Error() string {
	stderr := strings.TrimSpace(executionError.Stderr)
	if stderr == "" {
		return fmt.Sprintf("command %s exited with status %d", executionError.Command, executionError.ExitCode)
	}
	return fmt.Sprintf("command %s exited with status %d: %s", executionError.Command, executionError.ExitCode, stderr)
}

// Runner executes a Command to completion. A nonzero exit status is reported
// in Result.ExitCode, not as an error; the error return is reserved for
// processes that could not be started or were canceled.
type Runner interface {
	Run(ctx context.Context, command Command) (Result, error)
}

type ExecRunner struct {
	logger zerolog.Logger
}

func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger.With().Str("component", "executor").Logger()}
}

func (runner *ExecRunner) Run(ctx context.Context, command Command) (Result, error) {
	startedAt := time.Now()
	execCommand := exec.CommandContext(ctx, command.Program, command.Args...)
	execCommand.WaitDelay = KillGracePeriod
	var stdoutBuffer bytes.Buffer
	var stderrBuffer bytes.Buffer
	execCommand.Stdout = &stdoutBuffer
	execCommand.Stderr = &stderrBuffer

	runError := execCommand.Run()
	result := Result{
		Command:    command.String(),
		Stdout:     strings.TrimSpace(stdoutBuffer.String()),
		Stderr:     strings.TrimSpace(stderrBuffer.String()),
		DurationMS: time.Since(startedAt).Milliseconds(),
	}
	if runError == nil {
		return result, nil
	}

	if ctxError := ctx.Err(); ctxError != nil {
		result.ExitCode = exitCodeCanceled
		return result, fmt.Errorf("run %s: %w", command.Program, ctxError)
	}

	var exitError *exec.ExitError
	if errors.As(runError, &exitError) {
		result.ExitCode = extractExitCode(exitError)
		if result.ExitCode < 0 {
			result.ExitCode = 1
		}
		runner.logger.Error().
			Str("command", result.Command).
			Int("exit_code", result.ExitCode).
			Str("stderr", tailString(result.Stderr, stderrLogMaxSize)).
			Msg("command failed")
		return result, nil
	}

	result.ExitCode = 1
	var lookupError *exec.Error
	if errors.As(runError, &lookupError) {
		result.ExitCode = exitCodeNotFound
	}
	runner.logger.Error().Str("command", result.Command).Err(runError).Msg("command could not be started")
	return result, fmt.Errorf("start %s: %w", command.Program, runError)
}

func extractExitCode(exitError *exec.ExitError) int {
	if exitError == nil {
		return -1
	}

	if status, ok := exitError.Sys().(syscall.WaitStatus); ok {
		return status.ExitStatus()
	}

	message := exitError.Error()
	segments := strings.Split(message, "exit status ")
	if len(segments) > 1 {
		if parsed, parseError := strconv.Atoi(strings.TrimSpace(segments[len(segments)-1])); parseError == nil {
			return parsed
		}
	}
	return -1
}

func tailString(text string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}
	if len(text) <= maxLength {
		return text
	}
	return text[len(text)-maxLength:]
}
