package loader

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// decode sniffs data, rejects anything that is not text and converts it to
// UTF-8. declared is the Content-Type header, if there was one; its charset
// wins over detection.
func decode(data []byte, declared string) (*Page, error) {
	detected := mimetype.Detect(data)
	if !isText(detected) {
		return nil, fmt.Errorf("%w: %s", ErrNotText, detected.String())
	}

	contentType, label := splitContentType(declared)
	if contentType == "" {
		contentType, _ = splitContentType(detected.String())
	}
	if label == "" && !utf8.Valid(data) {
		label = detectCharset(data)
	}

	page := &Page{ContentType: contentType, Charset: "utf-8", HTML: string(data)}
	if label == "" || isUTF8(label) {
		return page, nil
	}

	r, err := charset.NewReader(bytes.NewReader(data), "text/html; charset="+label)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", label, err)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", label, err)
	}

	page.Charset = label
	page.HTML = string(decoded)
	return page, nil
}

func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func splitContentType(value string) (mediaType string, charsetLabel string) {
	if value == "" {
		return "", ""
	}
	mediaType, params, err := mime.ParseMediaType(value)
	if err != nil {
		return "", ""
	}
	return mediaType, strings.ToLower(params["charset"])
}

func detectCharset(data []byte) string {
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil {
		return "windows-1252"
	}
	return strings.ToLower(result.Charset)
}

func isUTF8(label string) bool {
	switch strings.ToLower(label) {
	case "utf-8", "utf8":
		return true
	}
	return false
}
