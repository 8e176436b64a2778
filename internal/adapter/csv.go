package adapter

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"
)

// requiredColumns must be present in every CSV header.
var requiredColumns = []string{domain.FieldDate, domain.FieldAmount}

var knownColumns = []string{
	domain.FieldDate,
	domain.FieldAmount,
	domain.FieldDescription,
	domain.FieldCategory,
	domain.FieldCurrency,
	domain.FieldType,
}

// csvRow is the decoding target after headers are rewritten to canonical
// field names.
type csvRow struct {
	Date        string `csv:"date"`
	Amount      string `csv:"amount"`
	Description string `csv:"description"`
	Category    string `csv:"category"`
	Currency    string `csv:"currency"`
	Type        string `csv:"type"`
}

// CSVOptions configures the CSV adapter.
type CSVOptions struct {
	Delimiter rune
	// Columns maps canonical field names (date, amount, ...) to the header
	// used by the source. Unmapped fields match their own name, ignoring case.
	Columns map[string]string
}

// CSVAdapter reads delimited statements with a header row.
type CSVAdapter struct {
	opts CSVOptions
	log  zerolog.Logger
}

// NewCSVAdapter creates a CSV adapter.
func NewCSVAdapter(opts CSVOptions, log zerolog.Logger) *CSVAdapter {
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}
	return &CSVAdapter{opts: opts, log: log}
}

func (a *CSVAdapter) Kind() domain.SourceKind { return domain.SourceKindCSV }

// Extract decodes every data row. Amount and date text is passed through
// untouched; malformed quoting, a row with the wrong number of fields or a
// missing required column fails the whole source.
func (a *CSVAdapter) Extract(ctx context.Context, src Source) ([]domain.CandidateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reader, err := a.newReader(src)
	if err != nil {
		return nil, err
	}
	if len(reader.rows) <= 1 {
		a.log.Info().Str("source", src.Name).Msg("CSV has no data rows")
		return []domain.CandidateRecord{}, nil
	}

	var rows []csvRow
	if err := gocsv.UnmarshalCSV(reader, &rows); err != nil {
		return nil, &domain.ParseError{Source: src.Name, Err: err}
	}

	records := make([]domain.CandidateRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}

	a.log.Debug().
		Str("source", src.Name).
		Int("records", len(records)).
		Msg("Extracted CSV records")

	return records, nil
}

func (a *CSVAdapter) newReader(src Source) (*mappedReader, error) {
	data := bytes.TrimPrefix(src.Data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = a.opts.Delimiter
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, &domain.ParseError{Source: src.Name, Line: perr.Line, Err: perr.Err}
		}
		return nil, &domain.ParseError{Source: src.Name, Err: err}
	}
	if len(rows) == 0 {
		return nil, &domain.ParseError{Source: src.Name, Err: errors.New("empty file")}
	}

	header, err := a.mapHeader(rows[0])
	if err != nil {
		return nil, &domain.ParseError{Source: src.Name, Line: 1, Err: err}
	}
	rows[0] = header

	return &mappedReader{rows: rows}, nil
}

// mapHeader rewrites source headers to canonical field names. Headers and
// mapped names are compared trimmed and case-folded; two headers folding to
// the same field are rejected.
func (a *CSVAdapter) mapHeader(header []string) ([]string, error) {
	lookup := make(map[string]string, len(knownColumns))
	for _, field := range knownColumns {
		source := field
		if mapped, ok := a.opts.Columns[field]; ok && mapped != "" {
			source = mapped
		}
		lookup[strings.ToLower(strings.TrimSpace(source))] = field
	}

	out := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		field, ok := lookup[key]
		if !ok {
			// Keep unknown columns distinct from canonical tags.
			out[i] = "source:" + h
			continue
		}
		if seen[field] {
			return nil, fmt.Errorf("duplicate column for %s: %q", field, h)
		}
		seen[field] = true
		out[i] = field
	}

	var missing []string
	for _, field := range requiredColumns {
		if !seen[field] {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func (r csvRow) record() domain.CandidateRecord {
	rec := domain.CandidateRecord{}
	set := func(field, value string) {
		if v := strings.TrimSpace(value); v != "" {
			rec[field] = v
		}
	}
	set(domain.FieldDate, r.Date)
	set(domain.FieldAmount, r.Amount)
	set(domain.FieldDescription, r.Description)
	set(domain.FieldCategory, r.Category)
	set(domain.FieldCurrency, r.Currency)
	set(domain.FieldType, r.Type)
	return rec
}

// mappedReader serves pre-read rows to gocsv through its CSVReader
// interface.
type mappedReader struct {
	rows [][]string
	pos  int
}

func (m *mappedReader) Read() ([]string, error) {
	if m.pos >= len(m.rows) {
		return nil, io.EOF
	}
	row := m.rows[m.pos]
	m.pos++
	return row, nil
}

func (m *mappedReader) ReadAll() ([][]string, error) {
	rest := m.rows[m.pos:]
	m.pos = len(m.rows)
	return rest, nil
}

var _ gocsv.CSVReader = (*mappedReader)(nil)
var _ Adapter = (*CSVAdapter)(nil)
