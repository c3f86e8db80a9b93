// Package static serves build-tool assets: compiled files from the output
// directory in production, and dev server responses in development.
package static

import (
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/conneroisu/devbridge/internal/classify"
	"github.com/conneroisu/devbridge/pkg/app"
)

// FileHandler serves regular files of an fs.FS. Directories are never
// listed or replaced by an index document, and HTML documents are left to the
// document server; anything it does not serve falls through to next.
// Hidden files such as .env are never served.
type FileHandler struct {
	filesystem fs.FS
}

// NewFileHandler creates a handler serving files of fsys.
func NewFileHandler(fsys fs.FS) *FileHandler {
	return &FileHandler{filesystem: fsys}
}

// Handle implements app.HandlerFunc.
func (h *FileHandler) Handle(w http.ResponseWriter, r *http.Request, next app.Next) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		next(nil)
		return
	}

	urlPath := r.URL.Path
	if strings.HasSuffix(urlPath, "/") || classify.IsDocumentPath(urlPath) {
		next(nil)
		return
	}

	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if hidden(name) {
		next(nil)
		return
	}

	f, err := h.filesystem.Open(name)
	if err != nil {
		next(nil)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		next(nil)
		return
	}

	content, ok := f.(io.ReadSeeker)
	if !ok {
		data, err := fs.ReadFile(h.filesystem, name)
		if err != nil {
			next(nil)
			return
		}
		content = strings.NewReader(string(data))
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), content)
}

// hidden reports whether a segment of name is a dotfile. /.well-known/ stays
// reachable.
func hidden(name string) bool {
	for i, segment := range strings.Split(name, "/") {
		if i == 0 && segment == ".well-known" {
			continue
		}
		if strings.HasPrefix(segment, ".") {
			return true
		}
	}
	return false
}
