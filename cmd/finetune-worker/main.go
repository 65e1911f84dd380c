package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/vyvo/finetune/pkg/config"
	"github.com/vyvo/finetune/pkg/finetune"
	"github.com/vyvo/finetune/pkg/queue"
	"github.com/vyvo/finetune/pkg/restapi"
	"github.com/vyvo/finetune/pkg/runstore"
	"github.com/vyvo/finetune/pkg/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("worker config failed: %v", err)
	}

	shutdownTracer := telemetry.InitTracer(ctx, "finetune-worker")
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("tracer shutdown error: %v", err)
		}
	}()

	for _, dir := range []string{cfg.ArchiveRoot, cfg.ModelsRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("cannot prepare directory %s: %v", dir, err)
		}
	}
	if cfg.SharedTmpRoot != "" {
		if err := os.MkdirAll(cfg.SharedTmpRoot, 0o755); err != nil {
			log.Fatalf("cannot prepare directory %s: %v", cfg.SharedTmpRoot, err)
		}
	}

	workerID := uuid.NewString()
	consumer, err := queue.NewConsumer(cfg.RedisURL, cfg.QueueName, workerID)
	if err != nil {
		log.Fatalf("queue init failed: %v", err)
	}
	defer consumer.Close()

	if moved, err := consumer.RequeueOrphans(ctx); err != nil {
		log.Printf("orphan requeue error: %v", err)
	} else if moved > 0 {
		log.Printf("requeued %d orphaned messages", moved)
	}

	memStore := runstore.NewMemStore()
	recorder := &runstore.Recorder{Mem: memStore}
	if cfg.DatabaseURL != "" {
		pg, err := runstore.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("run store postgres init failed: %v", err)
		}
		recorder.PG = pg
		defer func() {
			if err := pg.Close(); err != nil {
				log.Printf("run store close error: %v", err)
			}
		}()
	}

	var runner finetune.Runner
	containerized := finetune.IsContainerBackend(cfg.Backend)
	if containerized {
		runner = finetune.ContainerRunner{
			Image:     cfg.DockerImage,
			Runtime:   cfg.DockerRuntime,
			ModelsDir: cfg.SharedModels,
		}
	} else {
		runner = finetune.ProcessRunner{}
	}

	archiver := &finetune.Archiver{
		ArchiveRoot: cfg.ArchiveRoot,
		ModelsRoot:  cfg.ModelsRoot,
		Logf:        log.Printf,
	}
	if cfg.MirrorAddr != "" {
		archiver.Mirror = &finetune.SFTPMirror{
			Addr:       cfg.MirrorAddr,
			User:       cfg.MirrorUser,
			Password:   cfg.MirrorPassword,
			PrivateKey: cfg.MirrorPrivateKey,
			RemoteRoot: cfg.MirrorRemoteRoot,
		}
	}

	processor := &finetune.Processor{
		Resolver: finetune.NewResolver(finetune.ConfigFileProber{}, finetune.NewResolveCache(64), log.Printf),
		Runner:   runner,
		Archiver: archiver,
		Notifier: finetune.NewNotifier(cfg.CallbackTimeout, cfg.StartSignalURL, log.Printf),
		Recorder: recorder,
		Tracer:   otel.Tracer("finetune-worker"),
		Defaults: finetune.DefaultConfig(cfg.DeepspeedConfig),
		TrainerPaths: finetune.TrainerPaths{
			SpawnScript: cfg.SpawnScript,
			TrainScript: cfg.TrainScript,
		},
		Timeout:       cfg.FineTuneTimeout,
		TmpRoot:       cfg.SharedTmpRoot,
		WorkerID:      workerID,
		Containerized: containerized,
		Logf:          log.Printf,
	}

	if cfg.ListenAddr != "" {
		source := restapi.MemSource{Store: memStore}
		handler := restapi.NewRouter(source, source, cfg.AdminToken)
		go func() {
			log.Printf("run status API listening on %s", cfg.ListenAddr)
			if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil && err != http.ErrServerClosed {
				log.Printf("run status API failed: %v", err)
			}
		}()
	}

	log.Printf("fine-tune worker %s started on queue %q (%s backend), waiting for requests", workerID, cfg.QueueName, cfg.Backend)

	// One message in flight at a time: a long fine-tune run must keep the
	// worker's full supervision attention.
	for {
		delivery, err := consumer.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Printf("shutting down")
				return
			}
			log.Printf("receive error: %v", err)
			continue
		}

		switch processor.Process(ctx, delivery.Body) {
		case finetune.DispositionReject:
			if err := delivery.Reject(context.Background()); err != nil {
				log.Printf("reject failed: %v", err)
			}
		default:
			if err := delivery.Ack(context.Background()); err != nil {
				log.Printf("acknowledge failed: %v", err)
			}
		}
	}
}
