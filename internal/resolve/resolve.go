// Package resolve finds the HTML entry document closest to a request path.
//
// Nested single-page applications each carry their own index.html; a request
// is served by the deepest one on its path, falling back toward the content
// root.
package resolve

import (
	"io/fs"
	"path"
	"strings"
)

// IndexFile is the entry document looked up in each directory.
const IndexFile = "index.html"

// Match is the result of a successful resolution.
type Match struct {
	// FilePath is slash-separated and relative to the content root.
	FilePath string
	// Depth is the number of directory segments above the matched file.
	Depth int
}

// Closest resolves requestPath against fsys:
//
//  1. a path ending in .html that exists is returned verbatim;
//  2. an extensionless last segment with a sibling <segment>.html is served
//     by that file;
//  3. otherwise directories are walked from the deepest toward the root,
//     and the first index.html found wins.
//
// It reports false when no document applies.
func Closest(fsys fs.FS, requestPath string) (Match, bool) {
	clean := strings.TrimPrefix(path.Clean("/"+requestPath), "/")

	var segments []string
	if clean != "" {
		segments = strings.Split(clean, "/")
	}

	if strings.HasSuffix(clean, ".html") {
		if isFile(fsys, clean) {
			return Match{FilePath: clean, Depth: len(segments) - 1}, true
		}
	} else if n := len(segments); n > 0 && !strings.HasSuffix(requestPath, "/") && path.Ext(segments[n-1]) == "" {
		candidate := clean + ".html"
		if isFile(fsys, candidate) {
			return Match{FilePath: candidate, Depth: n - 1}, true
		}
	}

	dirs := segments
	if len(dirs) > 0 && !strings.HasSuffix(requestPath, "/") {
		dirs = dirs[:len(dirs)-1]
	}

	for depth := len(dirs); depth >= 0; depth-- {
		candidate := path.Join(append(append([]string{}, dirs[:depth]...), IndexFile)...)
		if isFile(fsys, candidate) {
			return Match{FilePath: candidate, Depth: depth}, true
		}
	}

	return Match{}, false
}

func isFile(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && info.Mode().IsRegular()
}
