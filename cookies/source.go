package cookies

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Load resolves a configured cookie value into one or more cookie strings.
//
// The value is either a literal cookie string ("NID_AUT=...; NID_SES=..."),
// a path to a file holding one, or "file://<path>". A file whose content is a
// JSON array of strings yields one cookie set per element.
func Load(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	path := strings.TrimPrefix(raw, "file://")
	if path != raw || isFile(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read cookie file %q: %w", path, err)
		}
		return parseContent(data)
	}
	return []string{raw}, nil
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func parseContent(data []byte) ([]string, error) {
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, fmt.Errorf("empty cookie source")
	}
	if strings.HasPrefix(content, "[") {
		var sets []string
		if err := json.Unmarshal([]byte(content), &sets); err != nil {
			return nil, fmt.Errorf("parse cookie JSON: %w", err)
		}
		return sets, nil
	}
	return []string{content}, nil
}

// Parse splits a "key=value; key2=value2" string into cookies. Malformed
// pairs are skipped.
func Parse(s string) []*http.Cookie {
	var out []*http.Cookie
	for _, pair := range strings.Split(s, ";") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		if name == "" {
			continue
		}
		out = append(out, &http.Cookie{Name: name, Value: strings.TrimSpace(parts[1])})
	}
	return out
}
