// Package httpapi exposes the credential and backup endpoints consumed
// by the client apps and the scheduler.
package httpapi

import (
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tasknest/tasknest/internal/blob"
	"github.com/tasknest/tasknest/internal/session"
	"github.com/tasknest/tasknest/internal/snapshot"
)

// ServerConfig carries the secrets and limits the server runs with.
type ServerConfig struct {
	// SyncEndpoint is handed out verbatim by the credentials route.
	SyncEndpoint string

	// ServiceSecret authorizes the scheduled all-users export route.
	ServiceSecret string

	MaxBodyBytes int64
}

// Server routes the HTTP surface. All state lives in the injected
// collaborators; Server itself is safe for concurrent use.
type Server struct {
	sessions *session.Manager
	exporter *snapshot.Exporter
	importer *snapshot.Importer
	store    blob.Store
	cfg      ServerConfig
	logger   *log.Logger
}

// NewServer wires the handler. If logger is nil, a default logger
// writing to stderr is used.
func NewServer(sessions *session.Manager, exporter *snapshot.Exporter, importer *snapshot.Importer, store blob.Store, cfg ServerConfig, logger *log.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 32 << 20
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[http] ", log.LstdFlags)
	}
	return &Server{
		sessions: sessions,
		exporter: exporter,
		importer: importer,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/v1/sync/credentials" && r.Method == http.MethodGet:
		s.handleCredentials(w, r)
	case r.URL.Path == "/v1/backup/export" && r.Method == http.MethodPost:
		s.handleExport(w, r)
	case r.URL.Path == "/v1/backup/export-all" && r.Method == http.MethodPost:
		s.handleExportAll(w, r)
	case r.URL.Path == "/v1/backup/download" && r.Method == http.MethodGet:
		s.handleDownload(w, r)
	case r.URL.Path == "/v1/backup/restore" && r.Method == http.MethodPost:
		s.handleRestore(w, r)
	case r.URL.Path == "/v1/backup/status" && r.Method == http.MethodGet:
		s.handleStatus(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

// authenticate verifies the bearer token and writes the error response
// itself on failure.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	sess, err := s.sessions.FromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return session.Session{}, false
	}
	return sess, true
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if s.cfg.SyncEndpoint == "" {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "sync endpoint not configured")
		return
	}

	// The handed-out token is a fresh one scoped to the same user, so a
	// long-lived app session never leaks into the sync runtime.
	token, exp, err := s.sessions.Issue(sess.UserID)
	if err != nil {
		s.logger.Printf("ERROR: failed to issue sync token for %s: %v", sess.UserID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to issue sync token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"endpoint":   s.cfg.SyncEndpoint,
		"token":      token,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	result, err := s.exporter.Export(r.Context(), sess.UserID)
	if err != nil {
		s.logger.Printf("ERROR: export failed for %s: %v", sess.UserID, err)
		writeError(w, http.StatusInternalServerError, "storage_failure", "failed to store snapshot")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"created_at":    result.CreatedAt.Format(time.RFC3339),
		"tables_count":  result.TablesExported,
		"total_records": result.TotalRecords,
	})
}

func (s *Server) handleExportAll(w http.ResponseWriter, r *http.Request) {
	if s.cfg.ServiceSecret == "" {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "service secret not configured")
		return
	}
	got := r.Header.Get("X-Service-Secret")
	if !hmac.Equal([]byte(got), []byte(s.cfg.ServiceSecret)) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid service secret")
		return
	}

	reports, err := s.exporter.ExportAll(r.Context())
	if err != nil {
		s.logger.Printf("ERROR: scheduled export failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to enumerate users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"users": reports})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	data, err := s.store.Get(r.Context(), blob.SnapshotKey(sess.UserID))
	if errors.Is(err, blob.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no snapshot exists for this account")
		return
	}
	if err != nil {
		s.logger.Printf("ERROR: download failed for %s: %v", sess.UserID, err)
		writeError(w, http.StatusInternalServerError, "storage_failure", "failed to read snapshot")
		return
	}

	name := fmt.Sprintf("tasknest-backup-%s.json", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "snapshot exceeds configured limit")
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}

	doc, err := snapshot.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_input", err.Error())
		return
	}

	report, err := s.importer.Restore(r.Context(), doc, sess.UserID)
	switch {
	case errors.Is(err, snapshot.ErrOwnershipViolation):
		s.logger.Printf("WARNING: restore ownership violation: snapshot for %s presented by %s", doc.UserID, sess.UserID)
		writeError(w, http.StatusForbidden, "ownership_violation", "snapshot belongs to a different account")
		return
	case errors.Is(err, snapshot.ErrMalformedInput):
		writeError(w, http.StatusBadRequest, "malformed_input", "snapshot is missing required fields")
		return
	case err != nil:
		s.logger.Printf("ERROR: restore failed for %s: %v", sess.UserID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "restore failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	exists, createdAt, records, err := s.exporter.Status(r.Context(), sess.UserID)
	if err != nil {
		s.logger.Printf("ERROR: status failed for %s: %v", sess.UserID, err)
		writeError(w, http.StatusInternalServerError, "storage_failure", "failed to read snapshot")
		return
	}

	resp := map[string]any{"exists": exists}
	if exists {
		resp["created_at"] = createdAt.Format(time.RFC3339)
		resp["total_records"] = records
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
