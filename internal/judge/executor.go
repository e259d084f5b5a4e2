package judge

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const (
	memoryPollInterval = 10 * time.Millisecond
	outputLimitBytes   = 1 << 20
)

// ExecRequest describes a single process run under resource limits.
type ExecRequest struct {
	Command       []string
	Dir           string
	Stdin         string
	TimeLimitMs   int64
	MemoryLimitKB int64
}

// ExecResult reports how a process run finished. TimedOut and
// MemoryExceeded record which limit, if any, forced termination.
type ExecResult struct {
	ExitCode       int
	Stdout         string
	Stderr         string
	TimeUsedMs     int64
	MemoryUsedKB   int64
	TimedOut       bool
	MemoryExceeded bool
}

// Executor runs candidate processes. The host executor below runs them
// directly; tests substitute a fake.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (*ExecResult, error)
}

// HostExecutor runs processes on the host with a wall-clock deadline
// and a resident-set-size watchdog. Memory is sampled while the process
// runs; when the peak crosses the limit the process is killed.
type HostExecutor struct{}

// NewHostExecutor returns an Executor that runs processes directly.
func NewHostExecutor() *HostExecutor {
	return &HostExecutor{}
}

func (e *HostExecutor) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	if len(req.Command) == 0 {
		return nil, errors.New("empty command")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if req.TimeLimitMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeLimitMs)*time.Millisecond)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, req.Command[0], req.Command[1:]...)
	cmd.Dir = req.Dir
	cmd.Stdin = strings.NewReader(req.Stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = newLimitedWriter(&stdout, outputLimitBytes)
	cmd.Stderr = newLimitedWriter(&stderr, outputLimitBytes)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	memCh := make(chan memSample, 1)
	go watchMemory(watchCtx, cmd, req.MemoryLimitKB, memCh)

	waitErr := cmd.Wait()
	stopWatch()
	elapsed := time.Since(start)
	mem := <-memCh

	res := &ExecResult{
		Stdout:         stdout.String(),
		Stderr:         stderr.String(),
		TimeUsedMs:     elapsed.Milliseconds(),
		MemoryUsedKB:   mem.peakKB,
		MemoryExceeded: mem.exceeded,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		if req.TimeLimitMs > 0 && res.TimeUsedMs < req.TimeLimitMs {
			res.TimeUsedMs = req.TimeLimitMs
		}
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if mem.exceeded {
		return res, nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, waitErr
	}
	res.ExitCode = cmd.ProcessState.ExitCode()
	return res, nil
}

type memSample struct {
	peakKB   int64
	exceeded bool
}

// watchMemory polls the RSS of the running process until the watch
// context is cancelled. A process over its memory limit is killed.
func watchMemory(ctx context.Context, cmd *exec.Cmd, limitKB int64, out chan<- memSample) {
	var sample memSample
	defer func() { out <- sample }()

	if cmd.Process == nil {
		return
	}
	proc, err := process.NewProcess(int32(cmd.Process.Pid))
	if err != nil {
		return
	}

	ticker := time.NewTicker(memoryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := proc.MemoryInfoWithContext(ctx)
			if err != nil {
				return
			}
			rssKB := int64(info.RSS / 1024)
			if rssKB > sample.peakKB {
				sample.peakKB = rssKB
			}
			if limitKB > 0 && rssKB > limitKB {
				sample.exceeded = true
				_ = cmd.Process.Signal(syscall.SIGKILL)
				return
			}
		}
	}
}

type limitedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func newLimitedWriter(buf *bytes.Buffer, limit int) *limitedWriter {
	return &limitedWriter{buf: buf, limit: limit}
}

// Write discards bytes past the limit so runaway output cannot exhaust
// memory. The truncated run still judges on what was captured.
func (w *limitedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}
