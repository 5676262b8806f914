package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clipCurator/config"
	"clipCurator/core"
	"clipCurator/processors"
	"clipCurator/server"
	"clipCurator/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if !cfg.HasValidAPI() {
		config.PrintConfigInstructions()
		log.Printf("No API credentials configured, running with deterministic fallbacks only")
	}

	if err := os.MkdirAll(core.DataRoot(), 0o755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}

	engine := processors.NewEngine(cfg)
	defer engine.Close()

	var embedder storage.Embedder
	if e := engine.EmbedderClient(); e != nil {
		embedder = e
	}
	store := storage.NewVectorStore(cfg, embedder)
	backend := os.Getenv("STORE")
	if backend == "" {
		backend = "memory"
	}
	log.Printf("Vector store initialized: %s", backend)
	log.Printf("Serving videos from %s", cfg.VideoDir)

	mux := http.NewServeMux()
	server.NewServer(engine, store).RegisterRoutes(mux)

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Printf("clip curation engine listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
