package server

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/todosync/todo-sync-backend/internal/broadcast"
	"github.com/todosync/todo-sync-backend/internal/database"
	"github.com/todosync/todo-sync-backend/internal/service"
)

type Server struct {
	port        int
	todoService service.TodoService
	db          database.Service
	hub         *broadcast.Hub
}

func NewServer(todoService service.TodoService, dbService database.Service, hub *broadcast.Hub) *http.Server {
	portStr := os.Getenv("PORT")
	if portStr == "" {
		portStr = "8080"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		fmt.Printf("Warning: Invalid PORT environment variable '%s'. Using default 8080. Error: %v", portStr, err)
		port = 8080
	}

	appServer := &Server{
		port:        port,
		todoService: todoService,
		db:          dbService,
		hub:         hub,
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", appServer.port),
		Handler:      appServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}

// NewHandler builds just the route tree. Tests mount it on httptest servers.
func NewHandler(todoService service.TodoService, dbService database.Service, hub *broadcast.Hub) http.Handler {
	appServer := &Server{
		todoService: todoService,
		db:          dbService,
		hub:         hub,
	}
	return appServer.RegisterRoutes()
}
