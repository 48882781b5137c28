package runtime

import (
	"net/url"
	"strings"
)

var urlPrefixes = []string{"https://www.", "http://www.", "https://", "http://"}

// ScreenURL builds the custom URL reported for a screen visit:
// "<app id>/<path without scheme>/", lower case, path-escaped. Returns false
// when title or path is blank.
func ScreenURL(appID, title, path string) (string, bool) {
	path = strings.TrimSpace(path)
	if normalizeTitle(title) == "" || path == "" {
		return "", false
	}
	for _, prefix := range urlPrefixes {
		if strings.HasPrefix(path, prefix) {
			path = path[len(prefix):]
			break
		}
	}
	escaped := (&url.URL{Path: strings.ToLower(path)}).EscapedPath()
	if !strings.HasSuffix(escaped, "/") {
		escaped += "/"
	}
	return strings.ToLower(appID + "/" + escaped), true
}

func normalizeTitle(title string) string {
	return strings.TrimSpace(title)
}
