package storage

import (
	"net/url"
	"strings"
)

const rootSegment = "root"

// PageSegment names the history directory for a page URL: its path with
// separators and other characters unsafe in file names replaced by '_'.
// Query and fragment are ignored.
func PageSegment(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	p := strings.Trim(parsed.Path, "/")
	if p == "" {
		return rootSegment, nil
	}
	p = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, p)
	return strings.ReplaceAll(p, "..", "_"), nil
}

// ShortTargetID is the 8-character prefix of a CDP target ID used in logs.
func ShortTargetID(targetID string) string {
	if len(targetID) > 8 {
		return targetID[:8]
	}
	return targetID
}
