package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"doc-collab/internal/api"
	"doc-collab/internal/auth"
	"doc-collab/internal/collab"
	"doc-collab/internal/config"
	"doc-collab/internal/db"
	"doc-collab/internal/repository"
	"doc-collab/internal/telemetry"
)

func main() {
	log.Println("🚀 Starting collaborative document sync server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Initialize Jaeger tracing first so all operations are traced
	jaegerShutdown, err := telemetry.InitJaeger("doc-collab", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Initialize GORM database
	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Durable store and access authority
	docRepo := repository.NewDocumentRepository(database.DB)

	// Access gate: token verification + document access check
	verifier := auth.NewTokenVerifier(cfg.JWTSecret)
	gate := auth.NewGate(verifier, docRepo)

	// Room registry owns every live document replica
	registry := collab.NewRegistry(docRepo, cfg.DrainGracePeriod)

	// WebSocket collaboration handler
	collabHandler := collab.NewHandler(gate, registry, cfg.SendBufferSize)

	// Setup routes
	handler := api.NewHandler(collabHandler, registry)
	router := api.SetupRoutes(handler)

	// Configure HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start HTTP server in a goroutine so shutdown signals are handled
	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("   WS     /ws/collab            - Collaboration socket")
		log.Printf("   GET    /api/collab/stats     - Live room stats")
		log.Printf("   GET    /api/health           - Health check")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Persist every live room before exit
	registry.Shutdown(ctx)

	log.Println("✓ Server shutdown complete")
}
