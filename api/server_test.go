package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/promptparty/promptparty/game/script"
	"github.com/promptparty/promptparty/game/session"
	"github.com/promptparty/promptparty/transport/websocket"
)

func newTestServer(t *testing.T, scriptFiles map[string]string) *Server {
	t.Helper()
	dir := t.TempDir()
	for name, content := range scriptFiles {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("writing script: %v", err)
		}
	}
	scripts, err := script.NewManager(dir)
	if err != nil {
		t.Fatalf("script.NewManager() error = %v", err)
	}
	hub := websocket.NewHub(session.NewManager(scripts, nil))
	return NewServer(scripts, hub)
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t, nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("got body %v", body)
	}
}

func TestListScripts(t *testing.T) {
	server := newTestServer(t, map[string]string{
		"drawing.json": `[{"kind": "init_state"}]`,
		"broken.json":  `nope`,
	})

	req := httptest.NewRequest("GET", "/api/scripts", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var infos []script.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "drawing" {
		t.Errorf("got scripts %v, want only the parseable one", infos)
	}
}

func TestListScriptsEmptyDirectory(t *testing.T) {
	server := newTestServer(t, nil)

	req := httptest.NewRequest("GET", "/api/scripts", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("got body %q, want an empty JSON array", got)
	}
}
