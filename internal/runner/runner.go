// Package runner wraps external process execution behind small interfaces so
// the orchestrator works the same whether experiments run locally or through
// a batch submission backend.
package runner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner abstracts blocking command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Handle tracks one submitted execution. The orchestrator polls Done and
// reads the outcome once it reports true.
type Handle interface {
	// Done reports whether the execution has finished. It may be called
	// repeatedly; a false result means "poll again later".
	Done() (bool, error)
	// ExitCode returns the process exit status once Done. -1 means the
	// process could not be launched or was killed.
	ExitCode() int
	// Output returns the captured stdout and stderr once Done.
	Output() (stdout string, stderr string)
}

// Submitter launches an execution without blocking on it. Local and batch
// backends implement the same interface, so the execute phase is identical
// for both.
type Submitter interface {
	Submit(ctx context.Context, dir string, command string) (Handle, error)
}

// LocalSubmitter runs commands through a CommandRunner in a goroutine,
// adapting blocking execution to the submit-then-poll interface.
type LocalSubmitter struct {
	Cmd CommandRunner
}

// NewLocalSubmitter creates a LocalSubmitter over an ExecRunner.
func NewLocalSubmitter() *LocalSubmitter {
	return &LocalSubmitter{Cmd: &ExecRunner{}}
}

func (s *LocalSubmitter) Submit(ctx context.Context, dir string, command string) (Handle, error) {
	h := &localHandle{done: make(chan struct{})}
	go func() {
		stdout, stderr, code, err := s.Cmd.Run(ctx, dir, command)
		h.stdout, h.stderr, h.exitCode, h.err = stdout, stderr, code, err
		if err != nil {
			h.exitCode = -1
		}
		close(h.done)
	}()
	return h, nil
}

type localHandle struct {
	done     chan struct{}
	stdout   string
	stderr   string
	exitCode int
	err      error
}

func (h *localHandle) Done() (bool, error) {
	select {
	case <-h.done:
		return true, h.err
	default:
		return false, nil
	}
}

func (h *localHandle) ExitCode() int {
	return h.exitCode
}

func (h *localHandle) Output() (string, string) {
	return h.stdout, h.stderr
}
