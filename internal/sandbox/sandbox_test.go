package sandbox

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestExecuteStdoutOnly(t *testing.T) {
	e := New()
	out := e.Execute(context.Background(), "echo hello")
	if out != "hello\n" {
		t.Errorf("expected %q, got %q", "hello\n", out)
	}
	if e.ErrorCount() != 0 {
		t.Errorf("expected no errors, got %d", e.ErrorCount())
	}
}

func TestExecuteWithStderr(t *testing.T) {
	e := New()
	out := e.Execute(context.Background(), "echo out; echo err 1>&2")
	if !strings.HasPrefix(out, "Output:\nout\n") {
		t.Errorf("expected Output section, got %q", out)
	}
	if !strings.Contains(out, "\n\nErrors:\nerr\n") {
		t.Errorf("expected Errors section, got %q", out)
	}
}

func TestExecuteNonZeroExitIsNotFailure(t *testing.T) {
	e := New()
	e.Execute(context.Background(), "exit 3")
	if e.ErrorCount() != 0 {
		t.Errorf("expected non-zero exit to count as executed, got %d errors", e.ErrorCount())
	}
}

func TestExecuteTimeout(t *testing.T) {
	e := New(WithTimeout(50 * time.Millisecond))
	start := time.Now()
	out := e.Execute(context.Background(), "sleep 5")

	if !strings.HasPrefix(out, "Command execution timed out after") {
		t.Errorf("expected timeout text, got %q", out)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout did not interrupt the command")
	}
	if e.ErrorCount() != 1 {
		t.Errorf("expected 1 error, got %d", e.ErrorCount())
	}
}

func TestExecuteStartFailure(t *testing.T) {
	e := New(WithCommandCreator(func(ctx context.Context, command string) *exec.Cmd {
		return exec.CommandContext(ctx, "/nonexistent/binary")
	}))

	out := e.Execute(context.Background(), "anything")
	if !strings.HasPrefix(out, "Execution error:") {
		t.Errorf("expected execution error text, got %q", out)
	}
	e.Execute(context.Background(), "anything")
	if e.ErrorCount() != 2 {
		t.Errorf("expected 2 errors, got %d", e.ErrorCount())
	}

	ok := New()
	ok.errorCount = 5
	ok.Execute(context.Background(), "true")
	if ok.ErrorCount() != 0 {
		t.Errorf("expected success to reset error count, got %d", ok.ErrorCount())
	}
}
