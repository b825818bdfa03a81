package webview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/htmloverlay/internal/bridge"
	"github.com/GriffinCanCode/htmloverlay/internal/loader"
)

var (
	ErrDestroyed     = fmt.Errorf("web view: %w", bridge.ErrSurfaceDestroyed)
	ErrScriptTimeout = errors.New("script exceeded its time budget")
	ErrInvalidName   = errors.New("invalid bridge object name")
)

// Config controls page runtimes.
type Config struct {
	ScriptTimeout  time.Duration // CPU budget for one script run or callback
	ConsoleLimit   int           // Console entries kept per page
	ChangeLimit    int           // DOM changes kept per page
	RunPageScripts bool          // Run inline <script> blocks on load
	MaxCallStack   int           // goja call stack limit
	UserAgent      string        // navigator.userAgent
}

// DefaultConfig returns page runtime defaults.
func DefaultConfig() Config {
	return Config{
		ScriptTimeout:  2 * time.Second,
		ConsoleLimit:   500,
		ChangeLimit:    1000,
		RunPageScripts: true,
		MaxCallStack:   1024,
		UserAgent:      "overlayd/1.0",
	}
}

// Fetcher loads documents for navigation.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (*loader.Page, error)
}

// LogEntry is one console call made by a page.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// DOMChange records a mutation made by page scripts.
type DOMChange struct {
	Type     string `json:"type"` // set_attribute, remove_attribute, set_text, set_html, append_child, remove_child, set_title
	Selector string `json:"selector"`
	Property string `json:"property,omitempty"`
	Value    string `json:"value,omitempty"`
}

// Touch is one contact point of a touch event.
type Touch struct {
	Identifier int     `json:"identifier"`
	ClientX    float64 `json:"clientX"`
	ClientY    float64 `json:"clientY"`
}

// Event is an input event injected into the page.
type Event struct {
	Type    string  `json:"type"`
	ClientX float64 `json:"clientX"`
	ClientY float64 `json:"clientY"`
	PageX   float64 `json:"pageX"`
	PageY   float64 `json:"pageY"`
	ScreenX float64 `json:"screenX"`
	ScreenY float64 `json:"screenY"`
	Touches []Touch `json:"touches,omitempty"`
}

// Snapshot is a copy of the view's state that any goroutine may read.
type Snapshot struct {
	URL        string      `json:"url"`
	Title      string      `json:"title"`
	Loading    bool        `json:"loading"`
	Destroyed  bool        `json:"destroyed"`
	Generation uint64      `json:"generation"`
	Console    []LogEntry  `json:"console"`
	Changes    []DOMChange `json:"changes"`
}
