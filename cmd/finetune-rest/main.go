package main

import (
	"log"
	"net/http"

	"github.com/vyvo/finetune/pkg/config"
	"github.com/vyvo/finetune/pkg/restapi"
	"github.com/vyvo/finetune/pkg/runstore"
)

// finetune-rest serves run history across all workers from the shared
// Postgres store. Live log tailing is only available on the worker that
// owns a run; this service returns stored lines.
func main() {
	cfg, err := config.LoadRest()
	if err != nil {
		log.Fatalf("rest config failed: %v", err)
	}

	if cfg.DatabaseURL == "" {
		log.Fatalf("FINETUNE_REST_DATABASE_URL is required")
	}

	pg, err := runstore.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("run store postgres init failed: %v", err)
	}
	defer func() {
		if err := pg.Close(); err != nil {
			log.Printf("run store close error: %v", err)
		}
	}()

	handler := restapi.NewRouter(restapi.PGSource{Store: pg}, nil, cfg.AdminToken)

	log.Printf("fine-tune run API listening on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil && err != http.ErrServerClosed {
		log.Fatalf("fine-tune run API failed: %v", err)
	}
}
