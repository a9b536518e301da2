package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/creditmate/card-data-worker/internal/model"
	"github.com/ledongthuc/pdf"
)

type PdfExtractor struct{}

func NewPdfExtractor() *PdfExtractor {
	return &PdfExtractor{}
}

func (e *PdfExtractor) Kind() model.ContentKind {
	return model.KindPDF
}

func (e *PdfExtractor) Extract(raw []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract pdf page %d: %w", pageNum, err)
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}

	return strings.TrimSpace(sb.String()), nil
}
