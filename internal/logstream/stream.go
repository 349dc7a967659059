// Package logstream exposes `kubectl logs` output as a channel of lines.
package logstream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/BegaDeveloper/kindops/internal/executor"
	"github.com/BegaDeveloper/kindops/internal/kind"
	"github.com/BegaDeveloper/kindops/internal/security"
)

const (
	DefaultNamespace = "default"
	maxLineSize      = 1024 * 1024
	stderrMaxSize    = 8 * 1024
)

type Request struct {
	Cluster   string
	Pod       string
	Namespace string
	Follow    bool
	Tail      int
}

type Adapter struct {
	kubectl string
	logger  zerolog.Logger
}

func NewAdapter(kubectl string, logger zerolog.Logger) *Adapter {
	if strings.TrimSpace(kubectl) == "" {
		kubectl = "kubectl"
	}
	return &Adapter{kubectl: kubectl, logger: logger.With().Str("component", "logstream").Logger()}
}

// Command builds the kubectl invocation for request without running it.
func (adapter *Adapter) Command(request Request) (executor.Command, error) {
	if err := security.ValidateClusterName(request.Cluster); err != nil {
		return executor.Command{}, err
	}
	if err := security.ValidatePodName(request.Pod); err != nil {
		return executor.Command{}, err
	}
	namespace := request.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := security.ValidateNamespace(namespace); err != nil {
		return executor.Command{}, err
	}
	if request.Tail < 0 {
		return executor.Command{}, &security.ValidationError{Reason: "tail must be >= 0"}
	}

	args := []string{request.Pod, "-n", namespace}
	if request.Follow {
		args = append(args, "-f")
	}
	if request.Tail > 0 {
		args = append(args, "--tail="+strconv.Itoa(request.Tail))
	}
	inspection, buildError := security.BuildInspection("logs", args...)
	if buildError != nil {
		return executor.Command{}, buildError
	}
	argv := inspection.TargetedArgv(kind.ContextName(request.Cluster))
	return executor.NewCommand(adapter.kubectl, argv...), nil
}

// Open starts kubectl logs. The child process lives until it exits on its own,
// ctx is canceled, or Close is called.
func (adapter *Adapter) Open(ctx context.Context, request Request) (*Stream, error) {
	command, buildError := adapter.Command(request)
	if buildError != nil {
		return nil, buildError
	}

	streamCtx, cancel := context.WithCancel(ctx)
	execCommand := exec.CommandContext(streamCtx, command.Program, command.Args...)
	execCommand.WaitDelay = executor.KillGracePeriod
	stderr := &limitedBuffer{limit: stderrMaxSize}
	execCommand.Stderr = stderr
	stdout, pipeError := execCommand.StdoutPipe()
	if pipeError != nil {
		cancel()
		return nil, fmt.Errorf("open log stream: %w", pipeError)
	}
	if startError := execCommand.Start(); startError != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", command.Program, startError)
	}

	stream := &Stream{
		command: command,
		process: execCommand,
		ctx:     streamCtx,
		cancel:  cancel,
		lines:   make(chan string),
		done:    make(chan struct{}),
		stderr:  stderr,
		logger:  adapter.logger,
	}
	adapter.logger.Info().Str("command", command.String()).Bool("follow", request.Follow).Msg("log stream opened")
	go stream.pump(stdout)
	return stream, nil
}

type Stream struct {
	command executor.Command
	process *exec.Cmd
	ctx     context.Context
	cancel  context.CancelFunc
	lines   chan string
	done    chan struct{}
	stderr  *limitedBuffer
	logger  zerolog.Logger

	waitError error
}

// Lines yields stdout one line at a time and is closed when the stream ends.
func (stream *Stream) Lines() <-chan string {
	return stream.lines
}

// Wait blocks until the stream has ended. A stream stopped through its
// context or Close reports nil; a nonzero kubectl exit reports an
// *executor.ExecutionError.
func (stream *Stream) Wait() error {
	<-stream.done
	return stream.waitError
}

// Close stops the child process and waits for it to be reaped.
func (stream *Stream) Close() error {
	stream.cancel()
	return stream.Wait()
}

func (stream *Stream) Stderr() string {
	return stream.stderr.String()
}

func (stream *Stream) pump(stdout io.Reader) {
	defer close(stream.done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	canceled := false
	for scanner.Scan() {
		select {
		case stream.lines <- scanner.Text():
		case <-stream.ctx.Done():
			canceled = true
		}
		if canceled {
			break
		}
	}
	close(stream.lines)
	scanError := scanner.Err()
	if canceled || scanError != nil {
		// Stop the child so Wait does not block on an unread pipe.
		stream.cancel()
	}

	waitError := stream.process.Wait()
	stopped := stream.ctx.Err() != nil
	stream.cancel()
	switch {
	case canceled:
		stream.logger.Debug().Str("command", stream.command.String()).Msg("log stream canceled")
	case scanError != nil:
		stream.waitError = fmt.Errorf("read log stream: %w", scanError)
	case waitError == nil || stopped:
	default:
		var exitError *exec.ExitError
		if errors.As(waitError, &exitError) {
			stream.waitError = &executor.ExecutionError{
				Command:  stream.command.String(),
				ExitCode: exitError.ExitCode(),
				Stderr:   strings.TrimSpace(stream.stderr.String()),
			}
		} else {
			stream.waitError = waitError
		}
	}
	if stream.waitError != nil {
		stream.logger.Error().Str("command", stream.command.String()).Err(stream.waitError).Msg("log stream failed")
	}
}

type limitedBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
	limit  int
}

func (buffer *limitedBuffer) Write(payload []byte) (int, error) {
	buffer.mu.Lock()
	defer buffer.mu.Unlock()
	remaining := buffer.limit - buffer.buffer.Len()
	if remaining > 0 {
		if len(payload) > remaining {
			buffer.buffer.Write(payload[:remaining])
		} else {
			buffer.buffer.Write(payload)
		}
	}
	return len(payload), nil
}

func (buffer *limitedBuffer) String() string {
	buffer.mu.Lock()
	defer buffer.mu.Unlock()
	return buffer.buffer.String()
}
