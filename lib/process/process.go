// Package process spawns and owns the remote host process: the binary that
// runs the plugin in its native execution environment. The parent talks to
// it over the child's stdin/stdout; stderr passes through for diagnostics.
package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Process is a running remote host process and the pipes connected to it.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// Start launches the binary at path with the given arguments and wires up
// its stdio. The returned Process owns the child until Close.
func Start(path string, args ...string) (*Process, error) {
	cmd := exec.Command(path, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process %s: %w", path, err)
	}

	return &Process{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// Writer returns the pipe feeding the child's stdin.
func (p *Process) Writer() io.Writer {
	return p.stdin
}

// Reader returns the pipe reading the child's stdout.
func (p *Process) Reader() io.Reader {
	return p.stdout
}

// Wait blocks until the child exits.
func (p *Process) Wait() error {
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("process exited with error: %w", err)
	}
	return nil
}

// Close tears the child down: the stdin pipe is closed first so a
// well-behaved child can notice EOF, then the child is killed if still
// running.
func (p *Process) Close() error {
	var firstErr error
	if err := p.stdin.Close(); err != nil {
		firstErr = fmt.Errorf("failed to close stdin pipe: %w", err)
	}
	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && firstErr == nil {
			if p.cmd.ProcessState == nil {
				firstErr = fmt.Errorf("failed to kill process: %w", err)
			}
		}
	}
	return firstErr
}
