package server

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/nvimal/courierbill/internal/capture"
	"github.com/nvimal/courierbill/internal/manifest"
)

// Server exposes the repository and capture session over a JSON API.
type Server struct {
	repo      *manifest.Repository
	capture   *capture.Manager
	basicAuth BasicAuth
	mux       *http.ServeMux

	// conflictMu guards the single pending interactive import conflict.
	// Conflicts are transient: they exist only between detection and user
	// resolution and are never persisted.
	conflictMu      sync.Mutex
	pendingConflict *manifest.Outcome
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(repo *manifest.Repository, captureMgr *capture.Manager, basicAuth BasicAuth) *Server {
	return NewServerWithMux(repo, captureMgr, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(repo *manifest.Repository, captureMgr *capture.Manager, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		repo:      repo,
		capture:   captureMgr,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Courierbill"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	// Manifests and recycle bin
	s.mux.HandleFunc("POST /api/manifests/{id}/move", s.requireAuth(s.handleMoveManifest))
	s.mux.HandleFunc("GET /api/manifests/{id}", s.requireAuth(s.handleGetManifest))
	s.mux.HandleFunc("DELETE /api/manifests/{id}", s.requireAuth(s.handleDeleteManifest))
	s.mux.HandleFunc("GET /api/manifests", s.requireAuth(s.handleListManifests))
	s.mux.HandleFunc("POST /api/manifests", s.requireAuth(s.handleSaveManifest))
	s.mux.HandleFunc("POST /api/recyclebin/{id}/restore", s.requireAuth(s.handleRestore))
	s.mux.HandleFunc("DELETE /api/recyclebin/{id}", s.requireAuth(s.handlePurge))
	s.mux.HandleFunc("GET /api/recyclebin", s.requireAuth(s.handleListBin))
	s.mux.HandleFunc("DELETE /api/recyclebin", s.requireAuth(s.handleEmptyBin))

	// Folders
	s.mux.HandleFunc("POST /api/folders/{id}/rename", s.requireAuth(s.handleRenameFolder))
	s.mux.HandleFunc("GET /api/folders/{id}/export", s.requireAuth(s.handleExportFolder))
	s.mux.HandleFunc("DELETE /api/folders/{id}", s.requireAuth(s.handleDeleteFolder))
	s.mux.HandleFunc("GET /api/folders", s.requireAuth(s.handleListFolders))
	s.mux.HandleFunc("POST /api/folders", s.requireAuth(s.handleCreateFolder))

	// Import
	s.mux.HandleFunc("POST /api/import/resolve", s.requireAuth(s.handleResolveConflict))
	s.mux.HandleFunc("POST /api/import/batch", s.requireAuth(s.handleImportBatch))
	s.mux.HandleFunc("POST /api/import/archive", s.requireAuth(s.handleImportArchive))
	s.mux.HandleFunc("POST /api/import", s.requireAuth(s.handleImport))

	// Rate configuration
	s.mux.HandleFunc("GET /api/config", s.requireAuth(s.handleGetConfig))
	s.mux.HandleFunc("POST /api/config", s.requireAuth(s.handleSetConfig))
	s.mux.HandleFunc("POST /api/evaluate", s.requireAuth(s.handleEvaluate))

	// Capture session
	s.mux.HandleFunc("POST /api/session/resume", s.requireAuth(s.handleResumeSession))
	s.mux.HandleFunc("POST /api/session/pages", s.requireAuth(s.handleCapturePage))
	s.mux.HandleFunc("POST /api/session/chunk/close", s.requireAuth(s.handleCloseChunk))
	s.mux.HandleFunc("POST /api/session/process", s.requireAuth(s.handleProcessQueue))
	s.mux.HandleFunc("POST /api/session/pause", s.requireAuth(s.handlePauseSession))
	s.mux.HandleFunc("POST /api/session/close", s.requireAuth(s.handleCloseSession))
	s.mux.HandleFunc("DELETE /api/session", s.requireAuth(s.handleTerminateSession))
	s.mux.HandleFunc("GET /api/session", s.requireAuth(s.handleGetSession))
	s.mux.HandleFunc("POST /api/session", s.requireAuth(s.handleStartSession))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
