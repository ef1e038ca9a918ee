package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/todosync/todo-sync-backend/internal/broadcast"
	"github.com/todosync/todo-sync-backend/internal/database"
	"github.com/todosync/todo-sync-backend/internal/domain"
	"github.com/todosync/todo-sync-backend/internal/repository"
	"github.com/todosync/todo-sync-backend/internal/server"
	"github.com/todosync/todo-sync-backend/internal/service"

	_ "github.com/joho/godotenv/autoload"
)

func gracefulShutdown(apiServer *http.Server, dbService database.Service, stopHub context.CancelFunc, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Println("Shutting down gracefully, press Ctrl+C again to force")
	stop()

	// The server gets 5 seconds to finish the requests it is handling.
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctxTimeout); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	// Tear down the broadcast room; connected sessions are closed, no replay
	// of undelivered events is attempted.
	stopHub()

	if dbService != nil {
		log.Println("Closing database connection pool...")
		if err := dbService.Close(); err != nil {
			log.Printf("Error closing database connection pool: %v", err)
		}
	}

	log.Println("Server exiting")
	done <- true
}

func main() {
	dbService := database.New()
	gormDB := dbService.GetDB()

	log.Println("Running database auto-migration...")
	if err := gormDB.AutoMigrate(&domain.Todo{}); err != nil {
		log.Fatalf("Failed to auto-migrate database: %v", err)
	}

	hub := broadcast.NewHub()
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	todoRepo := repository.NewGormTodoRepository(gormDB)
	todoService := service.NewTodoService(todoRepo, hub)
	apiServer := server.NewServer(todoService, dbService, hub)

	done := make(chan bool, 1)
	go gracefulShutdown(apiServer, dbService, stopHub, done)

	log.Printf("Starting server on %s", apiServer.Addr)
	err := apiServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server ListenAndServe error: %v", err)
	}

	<-done
	log.Println("Graceful shutdown complete.")
}
