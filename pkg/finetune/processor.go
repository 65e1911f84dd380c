package finetune

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Disposition tells the queue loop how to settle a delivery.
type Disposition int

const (
	// DispositionAck consumes the message: the run reached a terminal
	// outcome and was reported.
	DispositionAck Disposition = iota
	// DispositionReject permanently rejects the message without
	// requeueing; retrying malformed input cannot succeed.
	DispositionReject
)

// Processor is the per-message fine-tune state machine. One Processor
// handles one message at a time; horizontal scale comes from running more
// workers against the same queue.
type Processor struct {
	Resolver *Resolver
	Runner   Runner
	Archiver *Archiver
	Notifier *Notifier
	Recorder RunRecorder
	Tracer   trace.Tracer

	Defaults     Config
	TrainerPaths TrainerPaths
	Timeout      time.Duration
	TmpRoot      string
	WorkerID     string
	// Containerized rewrites dataset and output paths to their
	// in-container locations when the trainer runs behind a bind mount.
	Containerized bool

	Logf func(format string, args ...any)
}

func (p *Processor) logf(format string, args ...any) {
	if p.Logf != nil {
		p.Logf(format, args...)
	}
}

func (p *Processor) recorder() RunRecorder {
	if p.Recorder == nil {
		return NopRecorder{}
	}
	return p.Recorder
}

func (p *Processor) tracer() trace.Tracer {
	if p.Tracer == nil {
		return noop.NewTracerProvider().Tracer("finetune")
	}
	return p.Tracer
}

// Process runs the full pipeline for one queue message and returns how the
// delivery must be settled. Every path out of this function has produced
// at most one terminal callback, and the working directory is gone.
func (p *Processor) Process(ctx context.Context, body []byte) Disposition {
	req, err := ParseRequest(body)
	if err != nil {
		p.logf("rejecting malformed message: %v", err)
		return DispositionReject
	}
	if err := req.Validate(); err != nil {
		p.logf("rejecting invalid message %q: %v", req.RequestID, err)
		return DispositionReject
	}

	ctx, span := p.tracer().Start(ctx, "finetune.process")
	span.SetAttributes(
		attribute.String("finetune.request_id", req.RequestID),
		attribute.String("finetune.model_path", req.ModelPath),
	)
	defer span.End()

	workDir, err := os.MkdirTemp(p.TmpRoot, fmt.Sprintf("ft_%s_", req.RequestID))
	if err != nil {
		p.logf("work dir for %s: %v", req.RequestID, err)
		p.Notifier.NotifyFailure(req.CallbackURL, req.RequestID, fmt.Sprintf("could not allocate working directory: %v", err))
		return DispositionAck
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			p.logf("failed to clean up work dir %s: %v", workDir, err)
		}
	}()

	tlog, err := newTaskLog(workDir, req.RequestID, p.recorder(), p.Logf)
	if err != nil {
		p.logf("task log for %s: %v", req.RequestID, err)
		p.Notifier.NotifyFailure(req.CallbackURL, req.RequestID, fmt.Sprintf("could not open task log: %v", err))
		return DispositionAck
	}
	defer tlog.Close()

	p.run(ctx, req, workDir, tlog)
	return DispositionAck
}

// run executes steps 4-7 of the pipeline: everything between a validated
// request and cleanup. All of its exits are terminal outcomes that have
// been archived, recorded, and reported.
func (p *Processor) run(ctx context.Context, req Request, workDir string, tlog *taskLog) {
	p.recorder().RunStarted(req.RequestID, req.ModelPath, SafeModelName(req.ModelPath), p.WorkerID)

	tlog.Infof("processing fine-tune request %s", req.RequestID)
	tlog.Infof("model path: %s", req.ModelPath)
	tlog.Infof("number of examples: %d", len(req.Examples))

	params, err := ParseParams(req.Parameters)
	if err != nil {
		tlog.Warnf("failed to parse parameters, using defaults: %v", err)
	} else if len(params) > 0 {
		tlog.Infof("user parameters: %v", params)
	}

	safeName, resolvedModules := p.Resolver.Resolve(ctx, req.ModelPath)

	cfg := p.Defaults.Merge(params)
	targetModules := resolvedModules
	if override, ok := TargetModuleOverride(params); ok {
		targetModules = override
	}
	tlog.Infof("lora target modules: %v", targetModules)

	dataDir := filepath.Join(workDir, "data")
	outputDir := filepath.Join(workDir, "output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		p.finishFailure(req, workDir, tlog, StatusFail, "_error", fmt.Sprintf("create output dir: %v", err))
		return
	}

	trainPath, valPath, err := PrepareDataset(req.Examples, dataDir, req.RequestID, tlog.Warnf)
	if err != nil {
		p.finishFailure(req, workDir, tlog, StatusFail, "_error", fmt.Sprintf("prepare training data: %v", err))
		return
	}
	tlog.Infof("training data written to %s", dataDir)

	cmdTrain, cmdVal, cmdOut := trainPath, valPath, outputDir
	if p.Containerized {
		cmdTrain, cmdVal, cmdOut = ContainerDataPaths(trainPath, valPath)
	}
	argv := BuildCommand(cfg, p.TrainerPaths, req.ModelPath, cmdTrain, cmdVal, cmdOut, targetModules)
	tlog.Infof("trainer command: %v", argv)

	p.Notifier.SignalStarted(req.RequestID)

	tlog.Infof("starting fine-tuning (streaming logs)")
	status, err := p.Runner.Run(ctx, RunSpec{
		Argv:    argv,
		WorkDir: workDir,
		Env:     AcceleratorEnv(cfg.WorldSize),
		Timeout: p.Timeout,
		Log:     tlog.Line,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			p.finishFailure(req, workDir, tlog, StatusFail, "_error", "fine-tuning interrupted by worker shutdown")
			return
		}
		p.finishFailure(req, workDir, tlog, StatusFail, "_error", fmt.Sprintf("fine-tuning failed to launch: %v", err))
		return
	}

	tlog.Infof("fine-tuning finished in %.2f seconds with exit code %d", status.Duration.Seconds(), status.Code)

	if status.TimedOut {
		p.finishFailure(req, workDir, tlog, StatusTimeout, "_timeout",
			fmt.Sprintf("fine-tuning timed out after %.0f seconds", p.Timeout.Seconds()))
		return
	}
	if status.Code != 0 {
		p.finishFailure(req, workDir, tlog, StatusFail, "_fail",
			fmt.Sprintf("fine-tuning failed with return code %d", status.Code))
		return
	}

	adapterPath, err := p.Archiver.PublishAdapter(outputDir, safeName, req.RequestID)
	if err != nil {
		// The run itself succeeded; a publish failure loses the adapter
		// copy but not the archived output.
		tlog.Errorf("adapter publish failed: %v", err)
		adapterPath = ""
	}

	archivePath := p.Archiver.Archive(workDir, req.RequestID, "")
	p.Notifier.NotifySuccess(req.CallbackURL, req.RequestID, adapterPath)
	p.recorder().RunFinished(req.RequestID, StatusSuccess, adapterPath, archivePath, "")
	tlog.Infof("fine-tuning completed successfully")
}

func (p *Processor) finishFailure(req Request, workDir string, tlog *taskLog, status Status, suffix, errMsg string) {
	tlog.Errorf("%s", errMsg)
	archivePath := p.Archiver.Archive(workDir, req.RequestID, suffix)
	p.Notifier.NotifyFailure(req.CallbackURL, req.RequestID, errMsg)
	p.recorder().RunFinished(req.RequestID, status, "", archivePath, errMsg)
}
