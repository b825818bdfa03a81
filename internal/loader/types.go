package loader

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotAllowed = errors.New("asset path not allowed")
	ErrNotFound   = errors.New("asset not found")
	ErrNotText    = errors.New("content is not text")
	ErrTooLarge   = errors.New("content exceeds size limit")
	ErrBadURI     = errors.New("unsupported uri")
)

// Source says where a page came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceAsset  Source = "asset"
	SourceInline Source = "inline"
)

// AssetScheme prefixes asset URIs, e.g. asset://menu/index.html.
const AssetScheme = "asset://"

// Page is a decoded document ready to be parsed.
type Page struct {
	URL         string    // Canonical URI of the page
	Source      Source    // Where it was loaded from
	ContentType string    // Sniffed or declared media type
	Charset     string    // Original charset before decoding
	HTML        string    // UTF-8 document text
	FetchedAt   time.Time // When loading finished
}

// Config controls page loading.
type Config struct {
	AssetRoot      string        // Directory holding local pages
	AllowPatterns  []string      // doublestar patterns relative to AssetRoot
	FetchTimeout   time.Duration // Per-attempt timeout for remote pages
	RetryCount     int           // Extra attempts for remote pages
	MaxBytes       int64         // Largest accepted document
	UserAgent      string        // User-Agent for remote requests
	SanitizeRemote bool          // Strip scripts and unsafe markup from remote pages
}

// DefaultConfig returns loader defaults.
func DefaultConfig() Config {
	return Config{
		AssetRoot:     "assets",
		AllowPatterns: []string{"**/*.html", "**/*.htm", "**/*.html.gz"},
		FetchTimeout:  15 * time.Second,
		RetryCount:    2,
		MaxBytes:      5 << 20,
		UserAgent:     "overlayd/1.0",
	}
}

// StatusError is returned for a remote response outside 2xx.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Code)
}

// Temporary reports whether the origin itself is failing.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == 429
}
