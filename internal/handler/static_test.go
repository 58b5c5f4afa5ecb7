package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"nephrogo-edge/internal/config"
)

// newStaticFixture creates a disk layout mirroring the production root:
// <root>/static/... and <root>/media/....
func newStaticFixture(t *testing.T) (*StaticHandler, string) {
	t.Helper()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "static", "css"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "media", "products"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "static", "css", "admin.css"), []byte("body{margin:0}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "media", "products", "apple.jpg"), []byte("jpegdata"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "secret.txt"), []byte("keep out"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := config.NewStore(&config.Config{
		Static: config.StaticConfig{
			Root:               root,
			CacheMaxAgeSeconds: 14 * 24 * 60 * 60,
		},
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStaticHandler(store, logger, nil), root
}

func serveStatic(h *StaticHandler, method, path string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(method, path, http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	_ = h.Handle(c)
	return rec
}

func TestStaticHandler_ServesFileWithCacheHeaders(t *testing.T) {
	h, _ := newStaticFixture(t)

	rec := serveStatic(h, http.MethodGet, "/static/css/admin.css")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "body{margin:0}" {
		t.Errorf("body = %q, want file content", rec.Body.String())
	}

	cc := rec.Header().Get(echo.HeaderCacheControl)
	if cc != "public, max-age=1209600" {
		t.Errorf("Cache-Control = %q, want %q", cc, "public, max-age=1209600")
	}

	expires, err := time.Parse(http.TimeFormat, rec.Header().Get("Expires"))
	if err != nil {
		t.Fatalf("parse Expires %q: %v", rec.Header().Get("Expires"), err)
	}
	until := time.Until(expires)
	if until < 13*24*time.Hour || until > 15*24*time.Hour {
		t.Errorf("Expires %v is not ~14 days out", until)
	}
}

func TestStaticHandler_ServesMediaRoot(t *testing.T) {
	h, _ := newStaticFixture(t)

	rec := serveStatic(h, http.MethodGet, "/media/products/apple.jpg")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "jpegdata" {
		t.Errorf("body = %q, want file content", rec.Body.String())
	}
	if cc := rec.Header().Get(echo.HeaderCacheControl); !strings.HasPrefix(cc, "public") {
		t.Errorf("Cache-Control = %q, want public policy on media too", cc)
	}
}

func TestStaticHandler_MissingFile404(t *testing.T) {
	h, _ := newStaticFixture(t)

	rec := serveStatic(h, http.MethodGet, "/static/css/gone.css")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestStaticHandler_DirectoryNotListed(t *testing.T) {
	h, _ := newStaticFixture(t)

	rec := serveStatic(h, http.MethodGet, "/static/css")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d (no directory listing)", rec.Code, http.StatusNotFound)
	}
}

func TestStaticHandler_TraversalRejected(t *testing.T) {
	h, _ := newStaticFixture(t)

	// Echo/net-http normalize ../ in URLs, so exercise resolve directly too.
	if _, ok := h.resolve("/srv/nephrogo-api", "/static/../../etc/passwd"); ok {
		t.Error("resolve() accepted a path escaping the root")
	}
	if _, ok := h.resolve("/srv/nephrogo-api", "/"); ok {
		t.Error("resolve() accepted the bare root path")
	}

	rec := serveStatic(h, http.MethodGet, "/static/%2e%2e/secret.txt")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d for dot-segment path", rec.Code, http.StatusNotFound)
	}
	if strings.Contains(rec.Body.String(), "keep out") {
		t.Error("traversal request served a file outside the prefix")
	}
}

func TestStaticHandler_ConditionalRequest304(t *testing.T) {
	h, root := newStaticFixture(t)

	info, err := os.Stat(filepath.Join(root, "static", "css", "admin.css"))
	if err != nil {
		t.Fatal(err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/static/css/admin.css", http.NoBody)
	req.Header.Set("If-Modified-Since", info.ModTime().UTC().Format(http.TimeFormat))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	_ = h.Handle(c)

	if rec.Code != http.StatusNotModified {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotModified)
	}
	if cc := rec.Header().Get(echo.HeaderCacheControl); !strings.HasPrefix(cc, "public") {
		t.Errorf("Cache-Control = %q, want cache policy on 304 too", cc)
	}
}

func TestStaticHandler_HotReloadRoot(t *testing.T) {
	h, _ := newStaticFixture(t)

	otherRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(otherRoot, "static"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(otherRoot, "static", "new.txt"), []byte("fresh"), 0o644); err != nil {
		t.Fatal(err)
	}

	h.store.Replace(&config.Config{
		Static: config.StaticConfig{
			Root:               otherRoot,
			CacheMaxAgeSeconds: 60,
		},
	})

	rec := serveStatic(h, http.MethodGet, "/static/new.txt")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d after root swap", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "fresh" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "fresh")
	}
	if cc := rec.Header().Get(echo.HeaderCacheControl); cc != "public, max-age=60" {
		t.Errorf("Cache-Control = %q, want %q", cc, "public, max-age=60")
	}
}
