// Package web embeds the static chat page served at the proxy root.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

const indexFile = "index.html"

// Handler serves the embedded page. Unknown paths get index.html so that
// deep links still load the page. The page itself is never cached; other
// assets are cached for an hour.
func Handler() http.Handler {
	pages, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	files := http.FileServer(http.FS(pages))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" || !exists(pages, name) {
			name = indexFile
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		if name == indexFile {
			w.Header().Set("Cache-Control", "no-cache")
			r.URL.Path = "/"
		} else {
			w.Header().Set("Cache-Control", "public, max-age=3600")
		}
		files.ServeHTTP(w, r)
	})
}

func exists(fsys fs.FS, name string) bool {
	f, err := fsys.Open(name)
	if err != nil {
		return false
	}
	if err := f.Close(); err != nil {
		slog.Debug("web: failed to close embedded file", "path", name, "error", err)
	}
	return true
}
