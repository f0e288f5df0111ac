package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tasknest/tasknest/internal/backend"
	"github.com/tasknest/tasknest/internal/blob"
	"github.com/tasknest/tasknest/internal/session"
	"github.com/tasknest/tasknest/internal/snapshot"
)

const testServiceSecret = "svc-secret"

func setupServer(t *testing.T) (*Server, *session.Manager, *backend.SQLite) {
	t.Helper()
	dir := t.TempDir()

	b, err := backend.OpenSQLite(filepath.Join(dir, "remote.db"))
	if err != nil {
		t.Fatalf("failed to open backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	if err := b.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	store, err := blob.OpenFS(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("failed to open blob store: %v", err)
	}

	sessions, err := session.NewManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}

	quiet := log.New(io.Discard, "", 0)
	srv := NewServer(sessions,
		snapshot.NewExporter(b, store, quiet),
		snapshot.NewImporter(b, quiet),
		store,
		ServerConfig{
			SyncEndpoint:  "libsql://tasknest.example.turso.io",
			ServiceSecret: testServiceSecret,
		},
		quiet)
	return srv, sessions, b
}

func seedUser(t *testing.T, b backend.Backend, id string) {
	t.Helper()
	ctx := context.Background()
	svc := backend.ServiceScope()
	if err := b.Upsert(ctx, svc, "users", backend.Row{"id": id, "email": id + "@example.com"}); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	if err := b.Upsert(ctx, svc, "tasks", backend.Row{"id": id + "-t1", "user_id": id, "title": "one"}); err != nil {
		t.Fatalf("failed to seed task: %v", err)
	}
}

func bearer(t *testing.T, sessions *session.Manager, userID string) string {
	t.Helper()
	token, _, err := sessions.Issue(userID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return "Bearer " + token
}

func doRequest(srv *Server, method, path, auth string, body []byte) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	r := httptest.NewRequest(method, path, rd)
	if auth != "" {
		r.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	srv, _, _ := setupServer(t)
	w := doRequest(srv, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	srv, _, _ := setupServer(t)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/v1/sync/credentials"},
		{http.MethodPost, "/v1/backup/export"},
		{http.MethodGet, "/v1/backup/download"},
		{http.MethodPost, "/v1/backup/restore"},
		{http.MethodGet, "/v1/backup/status"},
	}
	for _, rt := range routes {
		w := doRequest(srv, rt.method, rt.path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", rt.method, rt.path, w.Code)
		}
	}
}

func TestCredentials(t *testing.T) {
	srv, sessions, _ := setupServer(t)

	w := doRequest(srv, http.MethodGet, "/v1/sync/credentials", bearer(t, sessions, "alice"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["endpoint"] != "libsql://tasknest.example.turso.io" {
		t.Errorf("unexpected endpoint %v", body["endpoint"])
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("expected a token in the response")
	}

	sess, err := sessions.Verify(token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if sess.UserID != "alice" {
		t.Errorf("expected token for alice, got %s", sess.UserID)
	}
}

func TestExportAndStatusAndDownload(t *testing.T) {
	srv, sessions, b := setupServer(t)
	seedUser(t, b, "alice")
	auth := bearer(t, sessions, "alice")

	w := doRequest(srv, http.MethodGet, "/v1/backup/status", auth, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["exists"] != false {
		t.Errorf("expected no snapshot before export, got %v", body)
	}

	w = doRequest(srv, http.MethodPost, "/v1/backup/export", auth, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["success"] != true {
		t.Errorf("expected success, got %v", body)
	}
	if body["total_records"].(float64) != 2 {
		t.Errorf("expected 2 records, got %v", body["total_records"])
	}

	w = doRequest(srv, http.MethodGet, "/v1/backup/status", auth, nil)
	if body := decodeBody(t, w); body["exists"] != true {
		t.Errorf("expected snapshot after export, got %v", body)
	}

	w = doRequest(srv, http.MethodGet, "/v1/backup/download", auth, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d", w.Code)
	}
	cd := w.Header().Get("Content-Disposition")
	if !strings.Contains(cd, "tasknest-backup-") || !strings.Contains(cd, ".json") {
		t.Errorf("unexpected content disposition %q", cd)
	}
	doc, err := snapshot.Decode(w.Body.Bytes())
	if err != nil {
		t.Fatalf("downloaded snapshot does not decode: %v", err)
	}
	if doc.UserID != "alice" {
		t.Errorf("expected alice's snapshot, got %s", doc.UserID)
	}
}

func TestDownloadWithoutSnapshot(t *testing.T) {
	srv, sessions, _ := setupServer(t)
	w := doRequest(srv, http.MethodGet, "/v1/backup/download", bearer(t, sessions, "alice"), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestExportAllRequiresServiceSecret(t *testing.T) {
	srv, _, b := setupServer(t)
	seedUser(t, b, "alice")

	w := doRequest(srv, http.MethodPost, "/v1/backup/export-all", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", w.Code)
	}

	r := httptest.NewRequest(http.MethodPost, "/v1/backup/export-all", nil)
	r.Header.Set("X-Service-Secret", "wrong")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong secret, got %d", rec.Code)
	}

	r = httptest.NewRequest(http.MethodPost, "/v1/backup/export-all", nil)
	r.Header.Set("X-Service-Secret", testServiceSecret)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Users []snapshot.UserReport `json:"users"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if len(body.Users) != 1 || !body.Users[0].Success {
		t.Errorf("expected one successful user report, got %+v", body.Users)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	srv, sessions, b := setupServer(t)
	seedUser(t, b, "alice")
	auth := bearer(t, sessions, "alice")

	if w := doRequest(srv, http.MethodPost, "/v1/backup/export", auth, nil); w.Code != http.StatusOK {
		t.Fatalf("export failed: %d", w.Code)
	}
	download := doRequest(srv, http.MethodGet, "/v1/backup/download", auth, nil)

	w := doRequest(srv, http.MethodPost, "/v1/backup/restore", auth, download.Body.Bytes())
	if w.Code != http.StatusOK {
		t.Fatalf("restore: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var report snapshot.Report
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if !report.Success || report.TotalRestored != 2 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestRestoreRejectsForeignSnapshot(t *testing.T) {
	srv, sessions, b := setupServer(t)
	seedUser(t, b, "alice")
	seedUser(t, b, "bob")

	if w := doRequest(srv, http.MethodPost, "/v1/backup/export", bearer(t, sessions, "alice"), nil); w.Code != http.StatusOK {
		t.Fatalf("export failed: %d", w.Code)
	}
	download := doRequest(srv, http.MethodGet, "/v1/backup/download", bearer(t, sessions, "alice"), nil)

	w := doRequest(srv, http.MethodPost, "/v1/backup/restore", bearer(t, sessions, "bob"), download.Body.Bytes())
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["code"] != "ownership_violation" {
		t.Errorf("expected ownership_violation code, got %v", body["code"])
	}

	// Bob's data must be untouched.
	rows, err := b.SelectByField(context.Background(), backend.UserScope("bob"), "tasks", "user_id", "bob")
	if err != nil {
		t.Fatalf("failed to read tasks: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected bob's task untouched, got %d rows", len(rows))
	}
}

func TestRestoreRejectsMalformedBody(t *testing.T) {
	srv, sessions, _ := setupServer(t)
	auth := bearer(t, sessions, "alice")

	for _, body := range []string{"not json", `{"tables":{}}`} {
		w := doRequest(srv, http.MethodPost, "/v1/backup/restore", auth, []byte(body))
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _, _ := setupServer(t)
	w := doRequest(srv, http.MethodGet, "/v1/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
