package extractor

import (
	"fmt"
	"strings"

	"github.com/creditmate/card-data-worker/internal/model"
	"github.com/otiai10/gosseract/v2"
)

type ImageExtractor struct {
	languages []string
}

func NewImageExtractor(languages string) *ImageExtractor {
	e := &ImageExtractor{}
	for _, lang := range strings.Split(languages, ",") {
		if lang = strings.TrimSpace(lang); lang != "" {
			e.languages = append(e.languages, lang)
		}
	}
	if len(e.languages) == 0 {
		e.languages = []string{"eng"}
	}

	return e
}

func (e *ImageExtractor) Kind() model.ContentKind {
	return model.KindImage
}

func (e *ImageExtractor) Extract(raw []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(e.languages...); err != nil {
		return "", fmt.Errorf("set ocr languages: %w", err)
	}
	if err := client.SetImageFromBytes(raw); err != nil {
		return "", fmt.Errorf("load image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}

	return strings.TrimSpace(text), nil
}
