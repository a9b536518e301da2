package extractor

import (
	"bytes"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/creditmate/card-data-worker/internal/model"
)

var errEmptyContent = errors.New("no text content extracted")

type WebpageExtractor struct{}

func NewWebpageExtractor() *WebpageExtractor {
	return &WebpageExtractor{}
}

func (e *WebpageExtractor) Kind() model.ContentKind {
	return model.KindWebpage
}

// Extract strips markup, scripts and styles and returns the visible text,
// one trimmed non-empty line per text block.
func (e *WebpageExtractor) Extract(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, iframe").Remove()

	text := doc.Text()
	var sb strings.Builder
	for _, line := range strings.Split(text, "\n") {
		for _, chunk := range strings.Split(line, "  ") {
			chunk = strings.TrimSpace(chunk)
			if chunk == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(chunk)
		}
	}

	return sb.String(), nil
}
