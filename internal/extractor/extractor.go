package extractor

import (
	"log/slog"

	"github.com/creditmate/card-data-worker/config"
	"github.com/creditmate/card-data-worker/internal/model"
)

// Extractor converts raw document bytes of one content kind into clean
// text. Implementations must be deterministic for identical input since
// change detection hashes the extracted text.
type Extractor interface {
	Kind() model.ContentKind
	Extract(raw []byte) (string, error)
}

// Registry dispatches extraction by content kind. New kinds are added by
// registering an implementation; nothing else needs to change.
type Registry struct {
	extractors map[model.ContentKind]Extractor
	log        *slog.Logger
}

func NewRegistry(cfg *config.ExtractorConfig, log *slog.Logger) *Registry {
	r := &Registry{
		extractors: make(map[model.ContentKind]Extractor),
		log:        log,
	}
	r.Register(NewWebpageExtractor())
	r.Register(NewPdfExtractor())
	r.Register(NewCsvExtractor())
	r.Register(NewImageExtractor(cfg.OcrLanguages))

	return r
}

func (r *Registry) Register(e Extractor) {
	r.extractors[e.Kind()] = e
}

func (r *Registry) Extract(kind model.ContentKind, raw []byte) (string, error) {
	e, ok := r.extractors[kind]
	if !ok {
		return "", model.NewUnsupportedKindError(kind)
	}
	text, err := e.Extract(raw)
	if err != nil {
		return "", model.NewExtractionError(err)
	}
	if text == "" {
		return "", model.NewExtractionError(errEmptyContent)
	}
	r.log.Debug("content extracted.", slog.String("kind", string(kind)),
		slog.Int("chars", len(text)))

	return text, nil
}
