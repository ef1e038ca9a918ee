package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/todosync/todo-sync-backend/internal/broadcast"
	"github.com/todosync/todo-sync-backend/internal/domain"
	"github.com/todosync/todo-sync-backend/internal/service"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Device-ID", "X-Write-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		broadcast.ServeWS(s.hub, w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.healthHandler)

		r.Route("/todos", func(r chi.Router) {
			r.Post("/", s.createTodoHandler)
			r.Get("/", s.getAllTodosHandler)
			r.Delete("/completed/all", s.deleteCompletedHandler)
			r.Get("/{id}", s.getTodoByIDHandler)
			r.Put("/{id}", s.updateTodoHandler)
			r.Delete("/{id}", s.deleteTodoHandler)
		})
	})

	return r
}

// writeMeta pulls the caller-supplied writer identity off the request. Both
// headers are optional; the device id is recorded as lastModifiedBy and the
// write id lets the originating session recognize its own broadcast echo.
func writeMeta(r *http.Request) service.WriteMeta {
	return service.WriteMeta{
		DeviceID: r.Header.Get("X-Device-ID"),
		WriteID:  r.Header.Get("X-Write-ID"),
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.db.Health()
	if stats["status"] != "up" {
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "error",
			"message": stats["error"],
		})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "OK",
		"message": "Server is running",
	})
}

func (s *Server) createTodoHandler(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTodoRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(&req)
	if err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		if errors.As(err, &syntaxError) {
			msg := fmt.Sprintf("Request body contains badly-formed JSON (at position %d)", syntaxError.Offset)
			respondWithError(w, http.StatusBadRequest, msg)
		} else if errors.Is(err, io.ErrUnexpectedEOF) {
			respondWithError(w, http.StatusBadRequest, "Request body contains badly-formed JSON")
		} else if errors.As(err, &unmarshalTypeError) {
			msg := fmt.Sprintf("Request body contains an invalid value for the %q field (at position %d)", unmarshalTypeError.Field, unmarshalTypeError.Offset)
			respondWithError(w, http.StatusBadRequest, msg)
		} else if strings.HasPrefix(err.Error(), "json: unknown field ") {
			fieldName := strings.TrimPrefix(err.Error(), "json: unknown field ")
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Request body contains unknown field %s", fieldName))
		} else if errors.Is(err, io.EOF) {
			respondWithError(w, http.StatusBadRequest, "Request body must not be empty")
		} else {
			log.Printf("Error decoding create todo request: %v", err)
			respondWithError(w, http.StatusInternalServerError, "Error processing request")
		}
		return
	}

	todoResp, err := s.todoService.CreateTodo(r.Context(), req, writeMeta(r))
	if err != nil {
		s.respondServiceError(w, err, "Failed to create todo")
		return
	}

	respondWithJSON(w, http.StatusCreated, todoResp)
}

func (s *Server) getAllTodosHandler(w http.ResponseWriter, r *http.Request) {
	todos, err := s.todoService.GetAllTodos(r.Context())
	if err != nil {
		s.respondServiceError(w, err, "Failed to retrieve todos")
		return
	}

	respondWithJSON(w, http.StatusOK, todos)
}

func (s *Server) getTodoByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := todoID(w, r)
	if !ok {
		return
	}

	todo, err := s.todoService.GetTodoByID(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err, "Failed to retrieve todo")
		return
	}

	respondWithJSON(w, http.StatusOK, todo)
}

func (s *Server) updateTodoHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := todoID(w, r)
	if !ok {
		return
	}

	var req service.UpdateTodoRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		log.Printf("Error decoding update todo request: %v", err)
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updatedTodo, err := s.todoService.UpdateTodo(r.Context(), id, req, writeMeta(r))
	if err != nil {
		s.respondServiceError(w, err, "Failed to update todo")
		return
	}

	respondWithJSON(w, http.StatusOK, updatedTodo)
}

func (s *Server) deleteTodoHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := todoID(w, r)
	if !ok {
		return
	}

	if err := s.todoService.DeleteTodo(r.Context(), id, writeMeta(r)); err != nil {
		s.respondServiceError(w, err, "Failed to delete todo")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Todo deleted successfully"})
}

func (s *Server) deleteCompletedHandler(w http.ResponseWriter, r *http.Request) {
	count, err := s.todoService.DeleteCompleted(r.Context(), writeMeta(r))
	if err != nil {
		s.respondServiceError(w, err, "Failed to delete completed todos")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"message":      "All completed todos deleted successfully",
		"deletedCount": count,
	})
}

func todoID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil || id == 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid todo ID provided")
		return 0, false
	}
	return uint(id), true
}

// respondServiceError maps the service error taxonomy to status codes. A
// conflict carries the authoritative todo so the client can adopt it without
// another round trip.
func (s *Server) respondServiceError(w http.ResponseWriter, err error, fallback string) {
	var validationErr *domain.ValidationError
	var conflictErr *domain.ConflictError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Todo not found")
	case errors.As(err, &validationErr):
		respondWithError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &conflictErr):
		respondWithJSON(w, http.StatusConflict, map[string]any{
			"conflict":      true,
			"serverVersion": conflictErr.ServerVersion,
			"clientVersion": conflictErr.ClientVersion,
			"serverTodo":    service.NewTodoResponse(conflictErr.ServerTodo),
			"message":       "Todo was modified by another session",
		})
	default:
		log.Printf("Service error: %v", err)
		respondWithError(w, http.StatusInternalServerError, fallback)
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshaling JSON response: %v", err)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal server error preparing response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
