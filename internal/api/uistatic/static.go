// Package uistatic serves the embedded chat page and its assets.
package uistatic

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

const indexPage = "index.html"

//go:embed all:app
var assets embed.FS

// Handler serves files under app/ and answers every other GET with the chat
// page, so browser routes such as /sessions/<id> load the client.
func Handler() http.Handler {
	root, err := fs.Sub(assets, "app")
	if err != nil {
		return http.NotFoundHandler()
	}
	page, err := fs.ReadFile(root, indexPage)
	if err != nil {
		return http.NotFoundHandler()
	}
	files := http.FileServerFS(root)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		if isAsset(root, r.URL.Path) {
			w.Header().Set("Cache-Control", "public, max-age=300")
			files.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(page)
	})
}

// isAsset reports whether urlPath names a regular file other than the page.
func isAsset(root fs.FS, urlPath string) bool {
	name := path.Clean(strings.TrimPrefix(urlPath, "/"))
	if name == "." || name == indexPage {
		return false
	}
	info, err := fs.Stat(root, name)
	return err == nil && !info.IsDir()
}
