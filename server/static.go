package server

import (
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// StaticServer serves the pre-built SPA export. Lookup order for a request
// path: the exact file, path + ".html", path/index.html, then the app
// shell index.html so client-side routes still resolve.
type StaticServer struct {
	dir    string
	logger *slog.Logger
}

// NewStaticServer returns nil when no static directory is configured.
func NewStaticServer(dir string, logger *slog.Logger) *StaticServer {
	if dir == "" {
		return nil
	}
	return &StaticServer{dir: dir, logger: logger}
}

func (s *StaticServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if file, ok := s.Resolve(r.URL.Path); ok {
		http.ServeFile(w, r, file)
		return
	}

	if shell := filepath.Join(s.dir, "index.html"); fileExists(shell) {
		http.ServeFile(w, r, shell)
		return
	}

	http.NotFound(w, r)
}

// Resolve maps a request path onto a file in the static export.
func (s *StaticServer) Resolve(reqPath string) (string, bool) {
	clean := path.Clean("/" + reqPath)
	rel := strings.TrimPrefix(clean, "/")
	if rel == "" {
		rel = "index.html"
	}

	candidates := []string{
		filepath.Join(s.dir, filepath.FromSlash(rel)),
		filepath.Join(s.dir, filepath.FromSlash(rel)+".html"),
		filepath.Join(s.dir, filepath.FromSlash(rel), "index.html"),
	}
	for _, candidate := range candidates {
		if fileExists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
