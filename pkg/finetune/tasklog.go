package finetune

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunRecorder receives run lifecycle events and log lines for external
// observation (in-memory store, database, streaming subscribers).
type RunRecorder interface {
	RunStarted(id, modelPath, safeName, workerID string)
	RunFinished(id string, status Status, adapterPath, archivePath, errMsg string)
	AppendLog(id, line string)
	RunClosed(id string)
}

// NopRecorder discards all run events.
type NopRecorder struct{}

func (NopRecorder) RunStarted(string, string, string, string)          {}
func (NopRecorder) RunFinished(string, Status, string, string, string) {}
func (NopRecorder) AppendLog(string, string)                           {}
func (NopRecorder) RunClosed(string)                                   {}

// taskLog is the per-job log sink: every line goes to the job's
// fine_tune.log inside the working directory and to the run recorder.
// The file travels with the working directory into the archive.
type taskLog struct {
	file      *os.File
	requestID string
	recorder  RunRecorder
	logf      func(format string, args ...any)
}

func newTaskLog(workDir, requestID string, recorder RunRecorder, logf func(format string, args ...any)) (*taskLog, error) {
	file, err := os.OpenFile(filepath.Join(workDir, "fine_tune.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open task log: %w", err)
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &taskLog{file: file, requestID: requestID, recorder: recorder, logf: logf}, nil
}

func (t *taskLog) write(level, msg string) {
	line := fmt.Sprintf("%s [%s] %s", time.Now().Format("2006/01/02 15:04:05"), level, msg)
	fmt.Fprintln(t.file, line)
	t.recorder.AppendLog(t.requestID, msg)
}

func (t *taskLog) Infof(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.write("INFO", msg)
	t.logf("[%s] %s", t.requestID, msg)
}

func (t *taskLog) Warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.write("WARN", msg)
	t.logf("[%s] %s", t.requestID, msg)
}

func (t *taskLog) Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.write("ERROR", msg)
	t.logf("[%s] %s", t.requestID, msg)
}

// Line records one raw line of trainer output.
func (t *taskLog) Line(line string) {
	fmt.Fprintln(t.file, line)
	t.recorder.AppendLog(t.requestID, line)
}

func (t *taskLog) Close() {
	_ = t.file.Close()
	t.recorder.RunClosed(t.requestID)
}
