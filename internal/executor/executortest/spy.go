// Package executortest provides a Runner double that records every command
// it is asked to spawn.
package executortest

import (
	"context"
	"sync"

	"github.com/BegaDeveloper/kindops/internal/executor"
)

type Responder func(command executor.Command) (executor.Result, error)

type SpyRunner struct {
	mu        sync.Mutex
	commands  []executor.Command
	responder Responder
}

func NewSpyRunner(responder Responder) *SpyRunner {
	return &SpyRunner{responder: responder}
}

// Succeed answers every command with exit status 0 and the given stdout.
func Succeed(stdout string) Responder {
	return func(command executor.Command) (executor.Result, error) {
		return executor.Result{Command: command.String(), Stdout: stdout}, nil
	}
}

// Fail answers every command with the given exit status and stderr.
func Fail(exitCode int, stderr string) Responder {
	return func(command executor.Command) (executor.Result, error) {
		return executor.Result{Command: command.String(), Stderr: stderr, ExitCode: exitCode}, nil
	}
}

// Sequence answers the n-th command with the n-th responder and repeats the
// last one once the list is exhausted.
func Sequence(responders ...Responder) Responder {
	var mu sync.Mutex
	index := 0
	return func(command executor.Command) (executor.Result, error) {
		mu.Lock()
		current := responders[min(index, len(responders)-1)]
		index++
		mu.Unlock()
		return current(command)
	}
}

func (spy *SpyRunner) Run(ctx context.Context, command executor.Command) (executor.Result, error) {
	spy.mu.Lock()
	spy.commands = append(spy.commands, executor.NewCommand(command.Program, command.Args...))
	responder := spy.responder
	spy.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return executor.Result{Command: command.String(), ExitCode: 130}, err
	}
	if responder == nil {
		return executor.Result{Command: command.String()}, nil
	}
	return responder(command)
}

func (spy *SpyRunner) Calls() int {
	spy.mu.Lock()
	defer spy.mu.Unlock()
	return len(spy.commands)
}

func (spy *SpyRunner) Commands() []executor.Command {
	spy.mu.Lock()
	defer spy.mu.Unlock()
	out := make([]executor.Command, len(spy.commands))
	copy(out, spy.commands)
	return out
}
