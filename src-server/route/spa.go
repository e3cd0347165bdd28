package route

import (
	"bytes"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"ganapp/src-server/utils"
)

// Serves the built web client. Unknown paths fall back to index.html so the
// client-side router can take over.
func SPA(muxer *http.ServeMux, as *utils.AppState) {
	dir := as.Config.GetStaticWebClientDir()
	files := http.FS(os.DirFS(dir))
	indexPath := filepath.Join(dir, "index.html")
	index, err := os.ReadFile(indexPath)
	if err != nil {
		slog.Error("Can't open index.html", "err", err)
		return
	}
	indexStat, err := os.Stat(indexPath)
	if err != nil {
		slog.Error("Can't get index.html stat", "err", err)
		return
	}

	serveIndex := func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, indexStat.Name(), indexStat.ModTime(), bytes.NewReader(index))
	}

	muxer.HandleFunc("GET /{filepath...}", instrument(as, "GET /{filepath...}", func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Clean(r.PathValue("filepath"))
		switch {
		case name == ".":
			serveIndex(w, r)
			return
		case name == "404":
			name = "404.html"
		case !strings.Contains(name, "."):
			// prerendered routes like /events -> events/index.html
			name += "/index.html"
		}

		file, err := files.Open(name)
		if err != nil {
			serveIndex(w, r)
			return
		}
		defer file.Close()

		stat, err := file.Stat()
		if err != nil || stat.Mode()&fs.ModeDir != 0 {
			serveIndex(w, r)
			return
		}
		http.ServeContent(w, r, stat.Name(), stat.ModTime(), file)
	}))
}
