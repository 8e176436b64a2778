package adapter

import (
	"context"
	"errors"
	"strings"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/rs/zerolog"
)

// DefaultMaxExtractionChars bounds the text handed to the extraction service.
const DefaultMaxExtractionChars = 25000

// TextExtractor pulls plain text out of a PDF document.
type TextExtractor interface {
	ExtractText(data []byte) (string, error)
}

// Extractor turns statement text into candidate records, typically by
// calling a language model.
type Extractor interface {
	ExtractTransactions(ctx context.Context, text string) ([]domain.CandidateRecord, error)
}

// PDFAdapter extracts text from a PDF and delegates record extraction.
type PDFAdapter struct {
	text      TextExtractor
	extractor Extractor
	maxChars  int
	log       zerolog.Logger
}

// NewPDFAdapter creates a PDF adapter. maxChars <= 0 uses
// DefaultMaxExtractionChars.
func NewPDFAdapter(text TextExtractor, extractor Extractor, maxChars int, log zerolog.Logger) *PDFAdapter {
	if maxChars <= 0 {
		maxChars = DefaultMaxExtractionChars
	}
	return &PDFAdapter{text: text, extractor: extractor, maxChars: maxChars, log: log}
}

func (a *PDFAdapter) Kind() domain.SourceKind { return domain.SourceKindPDF }

// Extract reads the document text, truncates it and asks the extractor for
// records. An unreadable PDF is a permanent failure; extractor failures are
// not.
func (a *PDFAdapter) Extract(ctx context.Context, src Source) ([]domain.CandidateRecord, error) {
	text, err := a.text.ExtractText(src.Data)
	if err != nil {
		return nil, &domain.ExtractionError{Stage: "pdf", Permanent: true, Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &domain.ExtractionError{Stage: "pdf", Permanent: true, Err: errors.New("document contains no text")}
	}

	if runes := []rune(text); len(runes) > a.maxChars {
		a.log.Info().
			Str("source", src.Name).
			Int("original_chars", len(runes)).
			Int("max_chars", a.maxChars).
			Msg("Truncating statement text for extraction")
		text = string(runes[:a.maxChars])
	}

	records, err := a.extractor.ExtractTransactions(ctx, text)
	if err != nil {
		return nil, &domain.ExtractionError{Stage: "llm", Err: err}
	}

	a.log.Debug().
		Str("source", src.Name).
		Int("records", len(records)).
		Msg("Extracted PDF records")

	return records, nil
}

var _ Adapter = (*PDFAdapter)(nil)
