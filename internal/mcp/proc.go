package mcp

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"time"
)

// stopGrace is how long Close waits for the child to exit after its
// stdin is closed before killing it.
const stopGrace = 5 * time.Second

// stderrErrorRe is the heuristic for surfacing child stderr lines to
// the operator. Everything else is routine diagnostic chatter and only
// visible at debug level. Advisory only — never used for control flow.
var stderrErrorRe = regexp.MustCompile(`(?i)\b(error|fatal|panic|fail|failed|exception|traceback)\b`)

// ProcConfig configures the tool-provider child process.
type ProcConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments passed to the executable.
	Args []string

	// Env are additional environment variables for the child
	// (format: "KEY=VALUE"), appended to the inherited environment.
	// Credentials for the remote task store are injected here.
	Env []string

	// Logger is the structured logger for supervisor diagnostics.
	Logger *slog.Logger
}

// Proc supervises the tool-provider child process. It owns the process
// handle for its entire lifetime: exactly one live handle per agent
// run. Stdout is handed to the RPC client exclusively; stderr is
// drained here as a diagnostic channel.
//
// The child is reaped only inside Close: Wait closes the parent's read
// end of the stdio pipes and discards undrained bytes, so calling it
// while the RPC client is still reading could lose a response the
// child wrote just before exiting. If the child dies mid-run, the
// client's reader sees EOF once the pipe drains and fails in-flight
// calls itself; the per-call timeout is the backstop.
type Proc struct {
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu     sync.Mutex
	closed bool
}

// StartProc spawns the child with inherited environment plus the
// injected entries, and three piped standard streams. The stderr drain
// goroutine starts immediately; stdout is not read until the RPC
// client takes it over.
func StartProc(cfg ProcConfig) (*Proc, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	logger.Info("starting tool provider",
		"command", cfg.Command,
		"args", cfg.Args,
	)

	if err := cmd.Start(); err != nil {
		stderr.Close()
		stdout.Close()
		stdin.Close()
		return nil, fmt.Errorf("start tool provider %s: %w", cfg.Command, err)
	}

	p := &Proc{
		logger: logger,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
	}

	go p.drainStderr(stderr)

	logger.Info("tool provider started", "pid", cmd.Process.Pid)
	return p, nil
}

// Stdout returns the child's stdout stream. The RPC client is its only
// permitted reader.
func (p *Proc) Stdout() io.Reader {
	return p.stdout
}

// Write sends bytes to the child's stdin, making Proc usable as the
// client's outbound stream.
func (p *Proc) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

// Pid returns the child's process id.
func (p *Proc) Pid() int {
	return p.cmd.Process.Pid
}

// drainStderr reads the child's stderr line by line. Lines matching the
// error heuristic are surfaced at warn level; the rest stay at debug.
func (p *Proc) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if stderrErrorRe.MatchString(line) {
			p.logger.Warn("tool provider stderr", "line", line)
		} else {
			p.logger.Debug("tool provider stderr", "line", line)
		}
	}
}

// Close tears the child down: stdin is closed to signal exit, and the
// process is killed if it has not gone away within the grace period.
// This is the only place the child is waited on.
// Close is idempotent; calling it on an already-closed Proc is a no-op.
func (p *Proc) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.logger.Info("stopping tool provider", "pid", p.cmd.Process.Pid)

	p.stdin.Close()

	waitCh := make(chan error, 1)
	go func() { waitCh <- p.cmd.Wait() }()

	select {
	case err := <-waitCh:
		if err != nil {
			p.logger.Debug("tool provider exit", "error", err)
		}
		return err
	case <-time.After(stopGrace):
		p.logger.Warn("tool provider did not exit gracefully, killing",
			"pid", p.cmd.Process.Pid,
		)
		_ = p.cmd.Process.Kill()
		return <-waitCh
	}
}
