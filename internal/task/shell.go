package task

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/vk/quantflow/internal/ctxlog"
)

// stderrTailBytes bounds how much captured stderr travels with a
// failure.
const stderrTailBytes = 4096

// ShellRunner invokes a node's rendered command through /bin/sh in a
// fresh invocation directory under WorkRoot. It captures the exit status
// and a stderr tail, and verifies every declared output file exists.
type ShellRunner struct {
	WorkRoot string
}

// Run executes the invocation. A non-zero exit status or a missing
// declared output is an error; tolerating it is the executor's call, not
// the runner's.
func (r *ShellRunner) Run(ctx context.Context, inv *Invocation) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("node", inv.Node.Name)

	cmd, err := RenderCommand(inv)
	if err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp(r.WorkRoot, inv.Node.Name+"-")
	if err != nil {
		return nil, fmt.Errorf("task: creating invocation dir: %w", err)
	}

	logger.Debug("Invoking tool.", "cmd", cmd, "dir", workDir)
	proc := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)
	proc.Dir = workDir
	var stderr bytes.Buffer
	proc.Stderr = &stderr

	runErr := proc.Run()
	exitCode := -1
	if proc.ProcessState != nil {
		exitCode = proc.ProcessState.ExitCode()
	}
	tail := stderrTail(stderr.Bytes())

	if runErr != nil {
		return &Result{ExitCode: exitCode, StderrTail: tail}, fmt.Errorf(
			"task: node %s exited %d: %s", inv.Node.Name, exitCode, tail)
	}

	outputs := make(map[string]string, len(inv.Outputs))
	for name, file := range inv.Outputs {
		path := filepath.Join(workDir, file)
		if _, err := os.Stat(path); err != nil {
			return &Result{ExitCode: exitCode, StderrTail: tail}, fmt.Errorf(
				"task: node %s did not produce declared output %s (%s): %w", inv.Node.Name, name, file, err)
		}
		outputs[name] = path
	}

	logger.Debug("Tool finished.", "exit", exitCode)
	return &Result{Outputs: outputs, ExitCode: exitCode, StderrTail: tail}, nil
}

func stderrTail(b []byte) string {
	if len(b) > stderrTailBytes {
		b = b[len(b)-stderrTailBytes:]
	}
	return string(bytes.TrimSpace(b))
}
