// Package server exposes the admin HTTP surface: trigger a full resync,
// inspect sync state, store stats, and run history. Errors are reported as
// {error, message} JSON, never raw stack traces.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vecsync/vecsync/internal/state"
	"github.com/vecsync/vecsync/internal/syncer"
	"github.com/vecsync/vecsync/internal/vectorstore"
)

// Config holds server configuration.
type Config struct {
	Port     int
	AllowAll bool // allow all CORS origins (dev mode)
}

// Server is the sync engine's admin HTTP server.
type Server struct {
	cfg        Config
	engine     *syncer.Engine
	state      *state.Manager
	store      vectorstore.Store
	router     chi.Router
	httpServer *http.Server
}

// New creates the admin server over the given engine, state manager, and
// vector store.
func New(cfg Config, engine *syncer.Engine, st *state.Manager, store vectorstore.Store) *Server {
	s := &Server{
		cfg:    cfg,
		engine: engine,
		state:  st,
		store:  store,
	}
	s.router = s.buildRouter()
	return s
}

// buildRouter creates and configures the chi router with all routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Resync runs a full sync inline; give it room.
	r.Use(middleware.Timeout(10 * time.Minute))

	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Post("/resync", s.handleResync)
	r.Get("/status", s.handleStatus)
	r.Get("/stats", s.handleStats)
	r.Get("/history", s.handleHistory)

	return r
}

// Router returns the chi router for tests and embedding.
func (s *Server) Router() chi.Router { return s.router }

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Resync(r.Context())
	if err != nil {
		if errors.Is(err, syncer.ErrLocked) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":   "Conflict",
				"message": "a sync run is already in progress",
			})
			return
		}
		log.Printf("server: resync failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Internal server error",
			"message": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("resync completed, %d files processed", res.FilesProcessed),
		"result": map[string]any{
			"filesProcessed":  res.FilesProcessed,
			"vectorsUpserted": res.VectorsUpserted,
			"vectorsDeleted":  res.VectorsDeleted,
			"durationMs":      res.Duration.Milliseconds(),
			"errors":          res.Errors,
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.state.GetState(r.Context())
	if err != nil {
		log.Printf("server: reading state: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Internal server error",
			"message": "could not read sync state",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"lastSyncTime":   st.LastSyncTime,
		"filesProcessed": st.FilesProcessed,
		"errorCount":     st.ErrorCount,
		"hasCursor":      st.Cursor != nil && *st.Cursor != "",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.Describe(r.Context())
	if err != nil {
		log.Printf("server: describing store: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Internal server error",
			"message": "could not read store stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"collection":  info.Name,
		"vectorCount": info.Count,
		"status":      info.Status,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	entries, err := s.state.GetSyncHistory(r.Context(), limit)
	if err != nil {
		log.Printf("server: reading history: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Internal server error",
			"message": "could not read sync history",
		})
		return
	}
	if entries == nil {
		entries = []state.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encoding response: %v", err)
	}
}

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("vecsync admin server listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
