package platform

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/grafov/m3u8"
)

// PickBest decodes a playlist and returns the URL of its best rendition:
// the highest-bandwidth variant of a master playlist, or baseURL itself when
// the playlist already is a media playlist.
func PickBest(body []byte, baseURL string) (string, error) {
	p, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), true)
	if err != nil {
		return "", fmt.Errorf("decode playlist: %w", err)
	}
	if listType == m3u8.MEDIA {
		return baseURL, nil
	}

	master, ok := p.(*m3u8.MasterPlaylist)
	if !ok {
		return "", fmt.Errorf("unexpected playlist type")
	}

	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	if best == nil {
		return "", fmt.Errorf("no variants found in master playlist")
	}
	return ResolveURL(baseURL, best.URI), nil
}

// ResolveURL constructs the full URL of a playlist entry from the URL of the
// playlist that referenced it, preserving the referencing query string when
// the entry carries none (CDN tokens usually live there).
func ResolveURL(baseURL, uri string) string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}

	pathPart, queryPart := baseURL, ""
	if idx := strings.Index(baseURL, "?"); idx != -1 {
		pathPart = baseURL[:idx]
		queryPart = baseURL[idx:]
	}
	if strings.Contains(uri, "?") {
		queryPart = ""
	}

	if strings.HasPrefix(uri, "/") {
		// Host-relative: keep scheme://host.
		if i := strings.Index(pathPart, "://"); i != -1 {
			if j := strings.Index(pathPart[i+3:], "/"); j != -1 {
				return pathPart[:i+3+j] + uri + queryPart
			}
			return pathPart + uri + queryPart
		}
	}

	if lastSlash := strings.LastIndex(pathPart, "/"); lastSlash != -1 {
		return pathPart[:lastSlash+1] + uri + queryPart
	}
	return uri + queryPart
}
