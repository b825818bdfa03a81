package loader

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Kind classifies a URI.
type Kind int

const (
	KindAsset Kind = iota
	KindRemote
	KindInline
)

// Resolve maps a URI to how it is loaded. http and https are fetched;
// about:blank is inline; everything else names an asset, with or without
// the asset:// scheme. Asset paths are returned cleaned and slash-separated.
func Resolve(uri string) (Kind, string, error) {
	uri = strings.TrimSpace(uri)
	lower := strings.ToLower(uri)

	switch {
	case uri == "":
		return 0, "", fmt.Errorf("%w: empty", ErrBadURI)
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		u, err := url.Parse(uri)
		if err != nil || u.Host == "" {
			return 0, "", fmt.Errorf("%w: %s", ErrBadURI, uri)
		}
		return KindRemote, u.String(), nil
	case lower == "about:blank":
		return KindInline, "about:blank", nil
	case strings.Contains(lower, "://") && !strings.HasPrefix(lower, AssetScheme):
		return 0, "", fmt.Errorf("%w: %s", ErrBadURI, uri)
	}

	rel := uri
	if strings.HasPrefix(lower, AssetScheme) {
		rel = uri[len(AssetScheme):]
	}
	// Drop query and fragment; assets are plain files.
	if i := strings.IndexAny(rel, "?#"); i >= 0 {
		rel = rel[:i]
	}
	rel = strings.TrimPrefix(rel, "/")

	cleaned := path.Clean(rel)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return 0, "", fmt.Errorf("%w: %s", ErrNotAllowed, uri)
	}
	return KindAsset, cleaned, nil
}

// AssetURI returns the canonical URI for an asset path.
func AssetURI(rel string) string {
	return AssetScheme + rel
}
