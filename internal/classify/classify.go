// Package classify decides whether a request path names an asset handled by
// the build tool or an HTML document.
package classify

import (
	"regexp"
	"strings"
)

// hasExtension matches a last path segment ending in a file extension.
var hasExtension = regexp.MustCompile(`\.\w+$`)

// internalMarkers are path fragments the dev server serves without a file
// extension.
var internalMarkers = []string{
	"/@vite/",
	"/@react-refresh",
	"/@id/",
	"/@fs/",
	"/@vite-plugin",
	"/node_modules/",
	"/__vite_ping",
}

// ClientScriptPath is the path of the dev server's HMR client bootstrap.
const ClientScriptPath = "/@vite/client"

// IsAssetPath reports whether path names a non-document asset.
func IsAssetPath(path string) bool {
	if IsDocumentPath(path) {
		return false
	}
	if hasExtension.MatchString(path) {
		return true
	}
	for _, marker := range internalMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

// IsDocumentPath reports whether path explicitly names an HTML document.
func IsDocumentPath(path string) bool {
	return strings.HasSuffix(path, ".html")
}

// IsClientScript reports whether path is the HMR client bootstrap script,
// whose body carries the port the browser must connect back to.
func IsClientScript(path string) bool {
	return strings.HasSuffix(path, ClientScriptPath)
}
