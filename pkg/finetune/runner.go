package finetune

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync/atomic"
	"syscall"
	"time"
)

// LogFunc receives one line of combined trainer output as it arrives.
type LogFunc func(line string)

// RunSpec describes one trainer invocation.
type RunSpec struct {
	Argv    []string
	WorkDir string
	Env     map[string]string
	Timeout time.Duration
	Log     LogFunc
}

// ExitStatus is the terminal outcome of a trainer run. A nonzero Code is a
// normal failure outcome, not an error; errors are reserved for launches
// that never produced a process.
type ExitStatus struct {
	Code     int
	Duration time.Duration
	TimedOut bool
}

// Runner supervises one external trainer execution at a time.
type Runner interface {
	Run(ctx context.Context, spec RunSpec) (ExitStatus, error)
}

// ProcessRunner executes the trainer as a local subprocess.
type ProcessRunner struct{}

func (ProcessRunner) Run(ctx context.Context, spec RunSpec) (ExitStatus, error) {
	if len(spec.Argv) == 0 {
		return ExitStatus{}, errors.New("launch trainer: empty command")
	}
	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.WorkDir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)

	// Own process group, so a kill reaches the trainer's spawned workers
	// and not just the launcher.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	kill := func() {
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	}
	return superviseProcess(ctx, cmd, spec, kill)
}

// superviseProcess starts cmd, drains its combined output into the log
// sink on the calling goroutine, and enforces the wall-clock ceiling. The
// stop function must terminate the underlying workload; it may be called
// more than once.
func superviseProcess(ctx context.Context, cmd *exec.Cmd, spec RunSpec, stop func()) (ExitStatus, error) {
	logLine := spec.Log
	if logLine == nil {
		logLine = func(string) {}
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	start := time.Now()
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return ExitStatus{}, fmt.Errorf("launch trainer: %w", err)
	}

	var timedOut atomic.Bool
	var canceled atomic.Bool

	var timer *time.Timer
	if spec.Timeout > 0 {
		timer = time.AfterFunc(spec.Timeout, func() {
			timedOut.Store(true)
			stop()
		})
		defer timer.Stop()
	}

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			canceled.Store(true)
			stop()
		case <-watchDone:
		}
	}()

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitErr <- err
	}()

	// Blocking drain on the caller's goroutine; one job at a time.
	// Oversized lines (progress bars without newlines) are truncated, not
	// treated as stream errors: the drain must keep reading until the pipe
	// closes, or the trainer blocks on a full pipe and Wait never returns.
	reader := bufio.NewReaderSize(pr, 64*1024)
	for {
		line, isPrefix, readErr := reader.ReadLine()
		if len(line) > 0 {
			text := string(line)
			if isPrefix {
				text += "...[truncated]"
			}
			logLine(text)
		}
		for isPrefix && readErr == nil {
			_, isPrefix, readErr = reader.ReadLine()
		}
		if readErr != nil {
			if readErr != io.EOF {
				logLine(fmt.Sprintf("log stream error: %v", readErr))
			}
			break
		}
	}
	// Fail any write still pending on the pipe so Wait cannot stall.
	pr.CloseWithError(io.ErrClosedPipe)

	err := <-waitErr
	duration := time.Since(start)

	if canceled.Load() && !timedOut.Load() {
		return ExitStatus{Duration: duration}, ctx.Err()
	}
	if timedOut.Load() {
		return ExitStatus{Code: -1, Duration: duration, TimedOut: true}, nil
	}

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			return ExitStatus{Duration: duration}, fmt.Errorf("trainer wait: %w", err)
		}
	}
	return ExitStatus{Code: code, Duration: duration}, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	merged := make([]string, 0, len(base)+len(extra))
	merged = append(merged, base...)

	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		merged = append(merged, key+"="+extra[key])
	}
	return merged
}

// AcceleratorEnv is the runtime environment handed to every trainer run in
// addition to the ambient process environment.
func AcceleratorEnv(worldSize int) map[string]string {
	visible := ""
	for i := 0; i < worldSize; i++ {
		if i > 0 {
			visible += ","
		}
		visible += fmt.Sprintf("%d", i)
	}
	return map[string]string{
		"DS_ACCELERATOR":         "hpu",
		"DEEPSPEED_HPU":          "1",
		"USE_HPU":                "1",
		"PT_TE_CUSTOM_OP":        "1",
		"PT_HPU_LAZY_MODE":       "0",
		"PT_HPU_VERBOSE":         "1",
		"HCL_LOG_LEVEL":          "INFO",
		"PYTHONUNBUFFERED":       "1",
		"HABANA_VISIBLE_DEVICES": visible,
	}
}
