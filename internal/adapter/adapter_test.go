package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCSV(opts CSVOptions) *CSVAdapter {
	return NewCSVAdapter(opts, zerolog.Nop())
}

func TestCSVAdapter_Extract(t *testing.T) {
	data := "Date,Amount,Description,Type,Category\n2023-01-01,100,Test Transaction,INCOME,Salary\n"

	records, err := newCSV(CSVOptions{}).Extract(context.Background(), Source{Name: "a.csv", Data: []byte(data)})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, domain.CandidateRecord{
		domain.FieldDate:        "2023-01-01",
		domain.FieldAmount:      "100",
		domain.FieldDescription: "Test Transaction",
		domain.FieldType:        "INCOME",
		domain.FieldCategory:    "Salary",
	}, records[0])
}

func TestCSVAdapter_QuotedLocaleAmounts(t *testing.T) {
	data := "\xef\xbb\xbfdate;amount;description\n" +
		"05.03.2024;\"-R$ 3.660,00\";\"Rent; March\"\n" +
		"06.03.2024;R$ 3.000,00;Salary\n" +
		"07.03.2024;not a number;Broken row\n"

	records, err := newCSV(CSVOptions{Delimiter: ';'}).Extract(context.Background(), Source{Name: "b.csv", Data: []byte(data)})
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "-R$ 3.660,00", records[0][domain.FieldAmount])
	assert.Equal(t, "Rent; March", records[0][domain.FieldDescription])
	assert.Equal(t, "R$ 3.000,00", records[1][domain.FieldAmount])
	assert.Equal(t, "not a number", records[2][domain.FieldAmount])
}

func TestCSVAdapter_ColumnMapping(t *testing.T) {
	data := "Buchungstag,Betrag,Verwendungszweck,Saldo\n31.01.2024,\"-12,50\",Bakery,100\n"
	adapter := newCSV(CSVOptions{Columns: map[string]string{
		domain.FieldDate:        "Buchungstag",
		domain.FieldAmount:      "betrag",
		domain.FieldDescription: "Verwendungszweck",
	}})

	records, err := adapter.Extract(context.Background(), Source{Name: "c.csv", Data: []byte(data)})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "31.01.2024", records[0][domain.FieldDate])
	assert.Equal(t, "-12,50", records[0][domain.FieldAmount])
	assert.Equal(t, "Bakery", records[0][domain.FieldDescription])
	assert.NotContains(t, records[0], "Saldo")
}

func TestCSVAdapter_HeadersIgnoreCase(t *testing.T) {
	data := "DATE, Amount ,description\n2024-02-01,7.25,Lunch\n"
	adapter := newCSV(CSVOptions{Columns: map[string]string{domain.FieldDescription: "Description"}})

	records, err := adapter.Extract(context.Background(), Source{Name: "d.csv", Data: []byte(data)})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, domain.CandidateRecord{
		domain.FieldDate:        "2024-02-01",
		domain.FieldAmount:      "7.25",
		domain.FieldDescription: "Lunch",
	}, records[0])
}

func TestCSVAdapter_BlankFieldsAreAbsent(t *testing.T) {
	data := "date,amount,description,category\n2024-01-01,5,,\n"

	records, err := newCSV(CSVOptions{}).Extract(context.Background(), Source{Name: "d.csv", Data: []byte(data)})
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, hasDescription := records[0][domain.FieldDescription]
	_, hasCategory := records[0][domain.FieldCategory]
	assert.False(t, hasDescription)
	assert.False(t, hasCategory)
}

func TestCSVAdapter_HeaderOnly(t *testing.T) {
	records, err := newCSV(CSVOptions{}).Extract(context.Background(), Source{Name: "e.csv", Data: []byte("date,amount\n")})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCSVAdapter_StructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty", "", "empty file"},
		{"missing columns", "description,category\nx,y\n", "missing required columns: date, amount"},
		{"missing amount", "date,description\n2024-01-01,x\n", "missing required columns: amount"},
		{"unbalanced quote", "date,amount\n2024-01-01,\"12\n", ""},
		{"wrong field count", "date,amount,description\n2024-01-01,1\n", "wrong number of fields"},
		{"duplicate column", "date,amount,Amount\n2024-01-01,1,2\n", "duplicate column"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newCSV(CSVOptions{}).Extract(context.Background(), Source{Name: "bad.csv", Data: []byte(tt.data)})
			var parseErr *domain.ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.True(t, domain.IsPermanent(err))
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

type fakeText struct {
	text string
	err  error
}

func (f fakeText) ExtractText([]byte) (string, error) { return f.text, f.err }

type fakeExtractor struct {
	ExtractFunc func(ctx context.Context, text string) ([]domain.CandidateRecord, error)
	got         string
}

func (f *fakeExtractor) ExtractTransactions(ctx context.Context, text string) ([]domain.CandidateRecord, error) {
	f.got = text
	return f.ExtractFunc(ctx, text)
}

func TestPDFAdapter_TruncatesText(t *testing.T) {
	ext := &fakeExtractor{ExtractFunc: func(context.Context, string) ([]domain.CandidateRecord, error) {
		return []domain.CandidateRecord{{domain.FieldAmount: "1"}}, nil
	}}
	a := NewPDFAdapter(fakeText{text: strings.Repeat("x", 30000)}, ext, 0, zerolog.Nop())

	records, err := a.Extract(context.Background(), Source{Name: "s.pdf", Data: []byte("%PDF")})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Len(t, ext.got, DefaultMaxExtractionChars)
}

func TestPDFAdapter_Errors(t *testing.T) {
	ok := &fakeExtractor{ExtractFunc: func(context.Context, string) ([]domain.CandidateRecord, error) { return nil, nil }}
	down := &fakeExtractor{ExtractFunc: func(context.Context, string) ([]domain.CandidateRecord, error) {
		return nil, errors.New("503 service unavailable")
	}}

	_, err := NewPDFAdapter(fakeText{err: errors.New("malformed xref")}, ok, 0, zerolog.Nop()).
		Extract(context.Background(), Source{Name: "s.pdf"})
	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))

	_, err = NewPDFAdapter(fakeText{text: "   "}, ok, 0, zerolog.Nop()).
		Extract(context.Background(), Source{Name: "s.pdf"})
	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))

	_, err = NewPDFAdapter(fakeText{text: "statement"}, down, 0, zerolog.Nop()).
		Extract(context.Background(), Source{Name: "s.pdf"})
	var extractErr *domain.ExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, "llm", extractErr.Stage)
	assert.False(t, domain.IsPermanent(err))
}

func TestPlainTextExtractor_RejectsGarbage(t *testing.T) {
	_, err := PlainTextExtractor{}.ExtractText([]byte("definitely not a pdf"))
	assert.Error(t, err)

	_, err = PlainTextExtractor{}.ExtractText(nil)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(newCSV(CSVOptions{}))

	a, err := r.Get(domain.SourceKindCSV)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceKindCSV, a.Kind())

	_, err = r.Get(domain.SourceKindPDF)
	assert.ErrorIs(t, err, domain.ErrUnsupportedSource)
	assert.ElementsMatch(t, []domain.SourceKind{domain.SourceKindCSV}, r.Kinds())
}
