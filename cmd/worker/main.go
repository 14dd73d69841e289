package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/config"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	runOnce := flag.String("run", "", "run one job, print its report and exit")
	flag.Parse()

	log.Println("Starting deliverability worker...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}
	defer eng.Close()

	if *runOnce != "" {
		code := runJob(ctx, eng, *runOnce)
		eng.Close()
		os.Exit(code)
	}

	eng.sched.Start(ctx)
	log.Printf("Scheduler started with jobs %v", eng.sched.Jobs())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           eng.server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// Job triggers run synchronously.
		WriteTimeout: 15 * time.Minute,
	}
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	cancel()
	eng.sched.Wait()
	log.Println("Worker stopped")
}

func runJob(ctx context.Context, eng *engine, name string) int {
	report, err := eng.sched.RunNow(ctx, name)
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
	}
	if err != nil {
		log.Printf("Job %s failed: %v", name, err)
		return 1
	}
	return 0
}
