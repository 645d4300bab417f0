// Package editor builds the URI handed to the host to open a file in the
// user's preferred code editor.
package editor

import (
	"net/url"
	"regexp"
	"strings"
)

// DefaultEditor is used when no preference is stored.
const DefaultEditor = "vscode"

var schemes = map[string]string{
	"vscode":          "vscode",
	"code":            "vscode",
	"vscode-insiders": "vscode-insiders",
	"insiders":        "vscode-insiders",
	"vscodium":        "vscodium",
	"cursor":          "cursor",
	"windsurf":        "windsurf",
}

var schemePattern = regexp.MustCompile(`^[a-z][a-z0-9+.-]*$`)

// Scheme maps a preferred-editor setting to a URI scheme. Unknown values that
// are valid schemes are used verbatim; anything else falls back to vscode.
func Scheme(preferred string) string {
	p := strings.ToLower(strings.TrimSpace(preferred))
	if s, ok := schemes[p]; ok {
		return s
	}
	if schemePattern.MatchString(p) {
		return p
	}
	return schemes[DefaultEditor]
}

// URI returns "<scheme>://file<path>" for an absolute file path.
func URI(preferred, path string) string {
	p := strings.ReplaceAll(path, `\`, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return Scheme(preferred) + "://file" + (&url.URL{Path: p}).EscapedPath()
}
