package server

import (
	"io/fs"
	"net/http"
	"strings"
)

// staticFileServer serves files from assets, falling back to index.html for
// any path that doesn't match a real file. The board plugin page is a single
// document that Miro loads from the root.
func staticFileServer(assets fs.FS) http.Handler {
	fileServer := http.FileServerFS(assets)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}

		if _, err := fs.Stat(assets, path); err != nil {
			r.URL.Path = "/"
		}

		fileServer.ServeHTTP(w, r)
	})
}
