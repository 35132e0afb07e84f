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

	"github.com/gorilla/mux"

	"github.com/kolcenter/import-transfer-service/internal/config"
	"github.com/kolcenter/import-transfer-service/internal/models"
	"github.com/kolcenter/import-transfer-service/internal/storage"
	"github.com/kolcenter/import-transfer-service/internal/transfer"
)

// Server handles HTTP requests
type Server struct {
	config   config.ServerConfig
	storage  storage.Storage
	transfer *transfer.Service
	server   *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, store storage.Storage, svc *transfer.Service) *Server {
	s := &Server{
		config:   cfg,
		storage:  store,
		transfer: svc,
	}

	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/import-post-comments/transfer",
		s.handleTransfer(svc.TransferComments)).Methods("POST", "OPTIONS")
	router.HandleFunc("/import-post-metrics/transfer",
		s.handleTransfer(svc.TransferMetrics)).Methods("POST", "OPTIONS")
	router.HandleFunc("/import-posts/transfer",
		s.handleTransfer(svc.TransferPosts)).Methods("POST", "OPTIONS")

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/status", s.handleStatus).Methods("GET")
	router.HandleFunc("/posts", s.handlePosts).Methods("GET")
	router.HandleFunc("/posts/{id}", s.handlePostByID).Methods("GET")

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

// Handler exposes the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// corsMiddleware lets the dashboard call the service cross-origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleTransfer wraps one entity's transfer behind the shared endpoint
// contract: the summary is always a 200, even when every row failed; only
// pre-flight problems produce a non-200.
func (s *Server) handleTransfer(run func(context.Context, models.TransferRequest) (*models.TransferSummary, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Printf("transfer request decode failed: %v", err)
			writeError(w, http.StatusInternalServerError, "invalid request body")
			return
		}

		summary, err := run(r.Context(), req)
		if err != nil {
			if errors.Is(err, transfer.ErrBadRequest) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			log.Printf("transfer failed: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, summary)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus returns the most recent transfer run per entity
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runs, err := s.storage.LatestTransferRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError,
			fmt.Sprintf("failed to retrieve status: %v", err))
		return
	}
	if runs == nil {
		runs = []models.TransferRunLog{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// handlePosts handles GET requests for production posts
func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	limit := 10 // default
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	offset := 0 // default
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	posts, err := s.storage.GetPosts(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError,
			fmt.Sprintf("failed to retrieve posts: %v", err))
		return
	}
	if posts == nil {
		posts = []models.Post{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"posts":  posts,
		"count":  len(posts),
		"limit":  limit,
		"offset": offset,
	})
}

// handlePostByID handles GET requests for a specific production post
func (s *Server) handlePostByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	post, err := s.storage.GetPostByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError,
			fmt.Sprintf("failed to retrieve post: %v", err))
		return
	}
	if post == nil {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}

	writeJSON(w, http.StatusOK, post)
}
