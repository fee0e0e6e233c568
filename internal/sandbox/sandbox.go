// Package sandbox runs approved instruction strings as shell commands.
// Execute never fails: every outcome is encoded in the returned text.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// DefaultTimeout bounds a single command
const DefaultTimeout = 600 * time.Second

// CommandCreator builds the exec.Cmd for a command line
// This allows for dependency injection in tests
type CommandCreator func(ctx context.Context, command string) *exec.Cmd

func defaultCommandCreator(ctx context.Context, command string) *exec.Cmd {
	return exec.CommandContext(ctx, "sh", "-c", command)
}

// Runner is what a worker needs from a sandbox
type Runner interface {
	Execute(ctx context.Context, command string) string
	ErrorCount() int
}

// Executor runs commands through sh -c
type Executor struct {
	timeout        time.Duration
	dir            string
	commandCreator CommandCreator

	mu            sync.Mutex
	errorCount    int
	lastExecution time.Time
}

// Option configures an Executor
type Option func(*Executor)

// WithTimeout overrides DefaultTimeout
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithDir sets the working directory commands run in
func WithDir(dir string) Option {
	return func(e *Executor) {
		e.dir = dir
	}
}

// WithCommandCreator replaces how commands are built (useful for testing)
func WithCommandCreator(cc CommandCreator) Option {
	return func(e *Executor) {
		e.commandCreator = cc
	}
}

// New creates an executor
func New(opts ...Option) *Executor {
	e := &Executor{
		timeout:        DefaultTimeout,
		commandCreator: defaultCommandCreator,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs command and returns its output, or a description of why it failed.
// A non-zero exit with output is still a successful execution.
func (e *Executor) Execute(ctx context.Context, command string) string {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := e.commandCreator(ctx, command)
	if e.dir != "" {
		cmd.Dir = e.dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children of sh can hold the pipes open after sh is killed
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.recordFailure()
		return fmt.Sprintf("Command execution timed out after %s", e.timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			e.recordFailure()
			return fmt.Sprintf("Execution error: %v", err)
		}
	}

	e.recordSuccess()
	if stderr.Len() > 0 {
		return fmt.Sprintf("Output:\n%s\n\nErrors:\n%s", stdout.String(), stderr.String())
	}
	return stdout.String()
}

// ErrorCount returns consecutive failures; a success resets it
func (e *Executor) ErrorCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errorCount
}

// LastExecution returns when the last successful command finished
func (e *Executor) LastExecution() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastExecution
}

func (e *Executor) recordFailure() {
	e.mu.Lock()
	e.errorCount++
	e.mu.Unlock()
}

func (e *Executor) recordSuccess() {
	e.mu.Lock()
	e.errorCount = 0
	e.lastExecution = time.Now()
	e.mu.Unlock()
}
