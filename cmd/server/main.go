package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/akosyrev/chronicle/internal/api"
	"github.com/akosyrev/chronicle/internal/config"
	"github.com/akosyrev/chronicle/internal/db"
	"github.com/akosyrev/chronicle/internal/ingestion"
	"github.com/akosyrev/chronicle/internal/repository/postgres"
	"github.com/akosyrev/chronicle/internal/snapshot"
	"github.com/akosyrev/chronicle/internal/temporal"
	"github.com/akosyrev/chronicle/internal/versioning"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Migrations run before the pool opens so every query sees the full schema.
	if err := db.Migrate(cfg.Database); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Stores over the shared pool serve reads; writes go through the unit of
	// work, which rebinds the same stores to one transaction.
	uow := postgres.NewUnitOfWork(conn)
	entities := postgres.NewEntityStore(conn.Pool)
	details := postgres.NewDetailStore(conn.Pool)
	audit := postgres.NewAuditTrail(conn.Pool)
	kinds := postgres.NewKindStore(conn.Pool)

	engine := versioning.NewEngine(uow)
	queries := temporal.NewQueryEngine(entities, details, audit)
	loader := ingestion.NewService(engine, cfg.Ingestion.DefaultKind)

	snapStore := postgres.NewSnapshotStore(conn.Pool)
	if cfg.Snapshot.Enabled {
		refresher := snapshot.NewRefresher(snapStore, cfg.Snapshot.Interval)
		go refresher.Run(ctx)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	apiServer := api.NewServer(engine, queries, kinds, ingestion.NewHTTPHandler(loader)).WithSnapshot(snapStore)

	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", corsHandler.Handler(apiServer.Routes())))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
