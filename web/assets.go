package web

import (
	"embed"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
)

//go:embed static
var static embed.FS

// registerAssets exposes every embedded file except the html pages, which
// are mounted on their own routes.
func registerAssets(router *httprouter.Router) error {
	return fs.WalkDir(static, "static", func(name string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel := strings.TrimPrefix(name, "static/")
		if path.Ext(rel) == ".html" {
			return nil
		}
		router.Handler("GET", fmt.Sprintf("/%v", rel), servePage(rel))
		return nil
	})
}

func servePage(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, err := static.ReadFile(path.Join("static", name))
		if err != nil {
			http.Error(w, "unable to fetch desired asset, server is mis-behaving", http.StatusInternalServerError)
			return
		}
		mt := mime.TypeByExtension(path.Ext(name))
		if mt == "" {
			mt = http.DetectContentType(content)
		}
		w.Header().Set("Content-Type", mt)
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.WriteHeader(http.StatusOK)
		w.Write(content)
	})
}
