// Package deeplink extracts deep links from notification payloads, resolves
// short dynamic links into their long form, decomposes them into a screen
// name plus parameters, and fans the result out to registered responders.
package deeplink

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/solatis/relaykit/internal/types"
)

// IgnoredValue marks a personalization slot the backend could not fill.
// Parameters carrying it are dropped on decomposition.
const IgnoredValue = "optimove_ignore_parameter"

// Components is a decomposed deep link.
type Components struct {
	ScreenName string
	Query      map[string]string
}

// Extract finds this app's link in a dynamic_links payload value. The value
// is a JSON string shaped {"<platform>": {"<app id, dots as underscores>": url}}.
func Extract(dynamicLinks any, platform, appID string) (string, error) {
	raw, ok := dynamicLinks.(string)
	if !ok || raw == "" {
		return "", types.ErrNoDeepLink
	}
	var byPlatform map[string]map[string]any
	if err := json.Unmarshal([]byte(raw), &byPlatform); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrNoDeepLink, err)
	}
	link, ok := byPlatform[platform][AppKey(appID)].(string)
	if !ok || link == "" {
		return "", types.ErrNoDeepLink
	}
	if _, err := url.Parse(link); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrNoDeepLink, err)
	}
	return link, nil
}

// AppKey converts an app id into the key form used inside payloads.
func AppKey(appID string) string {
	return strings.ReplaceAll(appID, ".", "_")
}

// Personalize substitutes every query-escaped placeholder key in link with
// its query-escaped value.
func Personalize(link string, values map[string]string) string {
	for key, value := range values {
		link = strings.ReplaceAll(link, queryEscape(key), queryEscape(value))
	}
	return link
}

// ParsePersonalization decodes the deep_link_personalization_values payload
// field. Absent or malformed input yields nil.
func ParsePersonalization(v any) map[string]string {
	raw, ok := v.(string)
	if !ok || raw == "" {
		return nil
	}
	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}

// Parse decomposes a long deep link. The screen name is the URL path without
// its leading slash; query values are percent-decoded and IgnoredValue
// parameters are skipped.
func Parse(link string) (Components, error) {
	base, rawQuery, _ := strings.Cut(link, "?")
	u, err := url.Parse(base)
	if err != nil {
		return Components{}, fmt.Errorf("parse deep link: %w", err)
	}

	c := Components{
		ScreenName: strings.TrimPrefix(u.Path, "/"),
		Query:      make(map[string]string),
	}
	if rawQuery == "" {
		return c, nil
	}
	for _, pair := range strings.Split(rawQuery, "&") {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" || value == IgnoredValue {
			continue
		}
		decoded, err := url.PathUnescape(value)
		if err != nil {
			continue
		}
		c.Query[key] = decoded
	}
	return c, nil
}

// queryEscape percent-encodes for a query component, spaces as %20.
func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
