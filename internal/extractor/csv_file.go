package extractor

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/creditmate/card-data-worker/internal/model"
)

type CsvExtractor struct{}

func NewCsvExtractor() *CsvExtractor {
	return &CsvExtractor{}
}

func (e *CsvExtractor) Kind() model.ContentKind {
	return model.KindCSV
}

// Extract renders the CSV as tab-separated lines so the structured parser
// sees column alignment.
func (e *CsvExtractor) Extract(raw []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1 // bank exports are rarely rectangular

	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}

	var sb strings.Builder
	for _, record := range records {
		sb.WriteString(strings.Join(record, "\t"))
		sb.WriteByte('\n')
	}

	return strings.TrimSpace(sb.String()), nil
}
