package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"highlight-store/internal/config"
	"highlight-store/internal/handler"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or could not be loaded: %v", err)
	}

	ctx := context.Background()

	// Wiring
	container, err := config.NewContainer(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	// Handlers
	highlightHandler := handler.NewHighlightHandler(
		container.HighlightService,
		container.Logger,
	)

	maintenanceHandler := handler.NewMaintenanceHandler(
		container.Store,
		container.GarbageCollector,
		container.Logger,
	)

	authMiddleware := handler.NewAuthMiddleware(
		container.Config.GetAPIToken(),
		container.Logger,
	)
	if container.Config.GetAPIToken() == "" {
		container.Logger.Warn("API_TOKEN is not set, the API is unauthenticated")
	}

	// Router
	router := handler.NewRouter(
		highlightHandler,
		maintenanceHandler,
		authMiddleware.Middleware,
		container.Config.GetAllowedOrigins(),
	)

	// start server
	server := &http.Server{
		Addr:              ":" + container.Config.GetServerPort(),
		Handler:           handler.RequestLogger(container.Logger)(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Run server
	go func() {
		container.Logger.Info("Server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Error("Server failed to start", err)
			os.Exit(1)
		}
	}()
	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	container.Logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("Server shutdown failed", err)
	}
	if err := container.Close(); err != nil {
		log.Printf("Failed to close store: %v", err)
	}

	log.Println("Server exited")
}
