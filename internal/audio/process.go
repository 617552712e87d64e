package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const processStopTimeout = 5 * time.Second

// process is a supervised engine child (ffmpeg segment or ffplay instance)
type process struct {
	label string
	cmd   *exec.Cmd

	// requested is set once we asked the child to exit
	requested atomic.Bool

	done chan struct{}
	err  error

	mu     sync.Mutex
	stderr strings.Builder
}

func startProcess(label string, env []string, args ...string) (*process, error) {
	cmd := exec.Command(args[0], args[1:]...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	slog.Debug("Starting engine process", "label", label, "command", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", args[0], err)
	}

	p := &process{
		label: label,
		cmd:   cmd,
		done:  make(chan struct{}),
	}

	var g errgroup.Group
	g.Go(func() error { return p.readOutput(stdout, "stdout", false) })
	g.Go(func() error { return p.readOutput(stderr, "stderr", true) })

	go func() {
		// Wait must only be called once the pipes are drained
		_ = g.Wait()
		p.err = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

func (p *process) readOutput(pipe io.Reader, stream string, keep bool) error {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		if keep {
			p.mu.Lock()
			p.stderr.WriteString(line + "\n")
			p.mu.Unlock()
		}
		slog.Log(context.Background(), slog.LevelDebug-4, "Engine process output", "label", p.label, "stream", stream, "line", line)
	}
	return scanner.Err()
}

func (p *process) output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderr.String()
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *process) signal(sig os.Signal) error {
	if p.exited() {
		return fmt.Errorf("%s already exited", p.label)
	}
	return p.cmd.Process.Signal(sig)
}

// stop asks the child to exit with sig and waits, escalating to SIGKILL on timeout
func (p *process) stop(ctx context.Context, sig os.Signal) error {
	p.requested.Store(true)
	if p.exited() {
		return nil
	}

	if err := p.cmd.Process.Signal(sig); err != nil {
		slog.Debug("Failed to signal engine process, killing", "label", p.label, "error", err)
		p.cmd.Process.Kill()
	}
	// A stopped child never sees the signal otherwise
	p.cmd.Process.Signal(syscall.SIGCONT)

	timer := time.NewTimer(processStopTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		slog.Warn("Engine process did not exit within timeout, force killing", "label", p.label)
		p.cmd.Process.Kill()
		<-p.done
	case <-ctx.Done():
		p.cmd.Process.Kill()
		<-p.done
		return ctx.Err()
	}

	return p.exitError()
}

// exitError treats termination by our own signal as success
func (p *process) exitError() error {
	if p.err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(p.err, &exitErr) {
		// FFmpeg exits with 255 after a graceful interrupt
		if exitErr.ExitCode() == 255 {
			return nil
		}
		if p.requested.Load() && exitErr.ProcessState != nil {
			if status, ok := exitErr.ProcessState.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				return nil
			}
		}
	}

	slog.Debug("Engine process stderr", "label", p.label, "output", p.output())
	return fmt.Errorf("%s failed: %w: %s", p.label, p.err, lastLine(p.output()))
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
