package webmonitor

import (
	"net/http"
	"os"
	"path/filepath"
)

type assetHandler struct {
	assetsDir string
}

func newAssetHandler(assetsDir string) *assetHandler {
	return &assetHandler{assetsDir: assetsDir}
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.assetsDir == "" {
		http.NotFound(w, r)
		return
	}

	assetPath := filepath.Join(h.assetsDir, filepath.Base(r.URL.Path))
	if !fileExists(assetPath) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, assetPath)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
