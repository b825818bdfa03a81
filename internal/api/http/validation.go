package http

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Request limits (in bytes)
const (
	MaxBodySize     = 1 * 1024 * 1024 // 1MB - maximum request body
	MaxScriptSize   = 256 * 1024      // 256KB - one script
	MaxURLLength    = 2048
	MaxSelectorSize = 1024
	MaxEvalTimeout  = 60 * 1000 // ms
)

var errInvalidRequest = errors.New("invalid request")

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errInvalidRequest, fmt.Sprintf(format, args...))
}

// ValidateScript checks a script before it is evaluated.
func ValidateScript(script string) error {
	if strings.TrimSpace(script) == "" {
		return invalid("script is empty")
	}
	if len(script) > MaxScriptSize {
		return invalid("script size %d bytes exceeds maximum %d bytes", len(script), MaxScriptSize)
	}
	if !utf8.ValidString(script) {
		return invalid("script is not valid UTF-8")
	}
	return nil
}

// ValidateURL checks a page address. Relative asset paths are accepted.
func ValidateURL(raw string) error {
	if raw == "" {
		return invalid("url is empty")
	}
	if len(raw) > MaxURLLength {
		return invalid("url length %d exceeds maximum %d", len(raw), MaxURLLength)
	}
	if strings.ContainsAny(raw, "\x00\r\n") {
		return invalid("url contains control characters")
	}
	if _, err := url.Parse(raw); err != nil {
		return invalid("url: %v", err)
	}
	return nil
}

// ValidateSelector checks a CSS selector used for event dispatch.
func ValidateSelector(selector string) error {
	if strings.TrimSpace(selector) == "" {
		return invalid("selector is empty")
	}
	if len(selector) > MaxSelectorSize {
		return invalid("selector length %d exceeds maximum %d", len(selector), MaxSelectorSize)
	}
	return nil
}
