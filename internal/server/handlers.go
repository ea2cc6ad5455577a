package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nvimal/courierbill/internal/billing"
	"github.com/nvimal/courierbill/internal/capture"
	"github.com/nvimal/courierbill/internal/expr"
	"github.com/nvimal/courierbill/internal/manifest"
)

// maxUploadSize bounds multipart uploads; phone photos of manifest pages
// run large.
const maxUploadSize = int64(50 << 20) // 50MB

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// --- Manifests ---

func (s *Server) handleListManifests(w http.ResponseWriter, r *http.Request) {
	manifests, err := s.repo.List()
	if err != nil {
		slog.Error("Error listing manifests", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if folderID := r.URL.Query().Get("folder"); folderID != "" {
		filtered := make([]*manifest.Manifest, 0, len(manifests))
		for _, m := range manifests {
			if m.FolderID == folderID {
				filtered = append(filtered, m)
			}
		}
		manifests = filtered
	}
	writeJSON(w, http.StatusOK, manifests)
}

func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	m, err := s.repo.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "manifest not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleSaveManifest(w http.ResponseWriter, r *http.Request) {
	var m manifest.Manifest
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid manifest body")
		return
	}
	saved, err := s.repo.Save(&m)
	if err != nil {
		slog.Error("Error saving manifest", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteManifest(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Delete(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "manifest not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "moved to recycle bin"})
}

func (s *Server) handleMoveManifest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FolderID string `json:"folderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	m, err := s.repo.MoveToFolder(r.PathValue("id"), body.FolderID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// --- Recycle bin ---

func (s *Server) handleListBin(w http.ResponseWriter, r *http.Request) {
	entries, err := s.repo.ListBin()
	if err != nil {
		slog.Error("Error listing recycle bin", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	m, err := s.repo.Restore(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "recycle-bin entry not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Purge(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "recycle-bin entry not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

func (s *Server) handleEmptyBin(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.EmptyBin(); err != nil {
		slog.Error("Error emptying recycle bin", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "emptied"})
}

// --- Folders ---

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.repo.ListFolders()
	if err != nil {
		slog.Error("Error listing folders", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	folder, err := s.repo.CreateFolder(body.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

func (s *Server) handleRenameFolder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	folder, err := s.repo.RenameFolder(r.PathValue("id"), body.Name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteFolder(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "folder not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted; manifests moved to root"})
}

func (s *Server) handleExportFolder(w http.ResponseWriter, r *http.Request) {
	archive, name, err := s.repo.ExportFolder(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "folder not found")
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(archive)
}

// --- Import ---

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return
	}
	folderID := r.URL.Query().Get("folder")

	outcome, err := s.repo.ImportCandidate(payload, folderID)
	if err != nil {
		slog.Error("Error importing manifest", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	switch outcome.Kind {
	case manifest.OutcomeRejected:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"outcome": "rejected", "reason": outcome.Reason})
	case manifest.OutcomeConflict:
		s.conflictMu.Lock()
		s.pendingConflict = outcome
		s.conflictMu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]any{
			"outcome":   "conflict",
			"existing":  outcome.Existing,
			"candidate": outcome.Candidate,
		})
	default:
		writeJSON(w, http.StatusCreated, map[string]any{"outcome": "imported", "manifest": outcome.Manifest})
	}
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Resolution manifest.Resolution `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.conflictMu.Lock()
	conflict := s.pendingConflict
	s.pendingConflict = nil
	s.conflictMu.Unlock()

	if conflict == nil {
		writeError(w, http.StatusNotFound, "no pending conflict")
		return
	}

	m, err := s.repo.ResolveConflict(conflict.Existing, conflict.Candidate, body.Resolution)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if m == nil {
		writeJSON(w, http.StatusOK, map[string]string{"outcome": "discarded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": string(body.Resolution), "manifest": m})
}

func (s *Server) handleImportBatch(w http.ResponseWriter, r *http.Request) {
	files, err := readMultipartFiles(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	folderID := r.URL.Query().Get("folder")

	results, err := s.repo.ImportBatch(files, folderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleImportArchive(w http.ResponseWriter, r *http.Request) {
	files, err := readMultipartFiles(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(files) != 1 {
		writeError(w, http.StatusBadRequest, "exactly one archive file is required")
		return
	}

	folder, results, err := s.repo.ImportArchive(files[0].Data, files[0].Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folder": folder, "results": results})
}

func readMultipartFiles(r *http.Request) ([]manifest.File, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, errors.New("error parsing form")
	}
	var files []manifest.File
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			f, err := header.Open()
			if err != nil {
				return nil, fmt.Errorf("opening uploaded file %s", header.Filename)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("reading uploaded file %s", header.Filename)
			}
			files = append(files, manifest.File{Name: header.Filename, Data: data})
		}
	}
	if len(files) == 0 {
		return nil, errors.New("no files provided")
	}
	return files, nil
}

// handleEvaluate computes arithmetic typed into weight and rate entry
// fields. Evaluation is total, so the response is always 200 with a value
// (0 for malformed input).
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Expression string `json:"expression"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"value": expr.Evaluate(body.Expression)})
}

// --- Rate configuration ---

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.repo.DefaultConfig()
	if err != nil {
		slog.Error("Error loading config", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var cfg billing.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config body")
		return
	}
	if err := s.repo.SetDefaultConfig(cfg); err != nil {
		slog.Error("Error saving config", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// --- Capture session ---

// sessionView is the session without its page image payloads; snapshots
// can carry megabytes of captured pages that API consumers never need.
type sessionView struct {
	ID             string           `json:"id"`
	FolderID       string           `json:"folderId"`
	Strategy       capture.Strategy `json:"strategy"`
	PendingCount   int              `json:"pendingCount"`
	CurrentPages   int              `json:"currentPages"`
	CapturedCount  int              `json:"capturedCount"`
	ProcessedCount int              `json:"processedCount"`
	Processing     bool             `json:"isProcessing"`
	Paused         bool             `json:"isPaused"`
	Status         string           `json:"status"`
}

func viewOf(session *capture.Session) sessionView {
	return sessionView{
		ID:             session.ID,
		FolderID:       session.FolderID,
		Strategy:       session.Strategy,
		PendingCount:   len(session.PendingChunks),
		CurrentPages:   len(session.CurrentChunk),
		CapturedCount:  session.CapturedCount,
		ProcessedCount: session.ProcessedCount,
		Processing:     session.Processing,
		Paused:         session.Paused,
		Status:         session.Status,
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session := s.capture.Active()
	if session == nil {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(session))
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Strategy capture.Strategy `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	explicit := body.Strategy != ""
	if !explicit {
		// A stale or hand-edited preference must never fail a request that
		// named no strategy; fall back to the default instead.
		if preferred, err := s.repo.PreferredStrategy(); err == nil && capture.Strategy(preferred).Valid() {
			body.Strategy = capture.Strategy(preferred)
		}
	}
	session, err := s.capture.Start(body.Strategy)
	if err != nil {
		if errors.Is(err, capture.ErrSessionActive) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if explicit {
		if err := s.repo.SetPreferredStrategy(string(session.Strategy)); err != nil {
			slog.Warn("Failed to remember strategy preference", "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, viewOf(session))
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.capture.Resume()
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(session))
}

func (s *Server) handleCapturePage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "error parsing form")
		return
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading uploaded file")
		return
	}

	session, err := s.capture.CapturePage(data, header.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(session))
}

func (s *Server) handleCloseChunk(w http.ResponseWriter, r *http.Request) {
	session, err := s.capture.CloseChunk()
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(session))
}

func (s *Server) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	session := s.capture.Active()
	if session == nil {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	// The drain runs in the background; progress is observable through
	// GET /api/session and pause takes effect between chunks.
	go func() {
		if err := s.capture.ProcessQueue(context.Background()); err != nil {
			slog.Error("Queue processing stopped", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "processing"})
}

func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.capture.Pause(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pause requested"})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.capture.Close(body.Confirmed); err != nil {
		if errors.Is(err, capture.ErrPendingChunks) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	if err := s.capture.Terminate(); err != nil {
		slog.Error("Error terminating session", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}
