package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"crashwatch/internal/audit"
	"crashwatch/internal/config"
	"crashwatch/internal/database"
	"crashwatch/internal/notify"
	"crashwatch/internal/pipeline"
	"crashwatch/internal/registry"
	"crashwatch/internal/vision"
)

func main() {
	var (
		configF = flag.String("config", "config.yaml", "Path to YAML configuration file")
		dbgF    = flag.Bool("debug", false, "Verbose request logging")
	)
	flag.Parse()

	log.SetPrefix("[crashwatch] ")
	log.SetFlags(log.Ltime)

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		log.Fatalf("database directory: %v", err)
	}
	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	recorder, err := audit.NewRecorder(cfg.AccidentLog, db)
	if err != nil {
		log.Fatalf("accident log: %v", err)
	}
	defer recorder.Close()

	var visionSvc pipeline.VisionService
	if cfg.Vision.Mock {
		log.Printf("vision: using mock detector")
		visionSvc = vision.NewMock(cfg.Vision.MockSeed, cfg.Vision.AccidentRate)
	} else {
		visionSvc = vision.NewClient(vision.Config{
			Endpoint: cfg.Vision.Endpoint,
			APIKey:   cfg.Vision.APIKey(),
			Model:    cfg.Vision.Model,
		})
	}

	notifier := notify.NewTelegram(cfg.Telegram)
	if notifier.Enabled() {
		log.Printf("telegram: notifications enabled")
	}

	reg := registry.New(registry.Deps{
		Vision:   visionSvc,
		Recorder: recorder,
		Notifier: notifier,
		Fallback: cfg.Fallback,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reg.Bootstrap(ctx, cfg, db); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer reg.Shutdown()

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	go func() {
		errc <- runServer(ctx, cfg.Listen, reg, db, *dbgF)
	}()

	log.Printf("listening on %s (%d streams)", cfg.Listen, len(reg.IDs()))
	log.Printf("exiting (%v)", <-errc)
	cancel()
}
