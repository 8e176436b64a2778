// Package llm implements statement extraction with Gemini.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// DefaultModelName is the default Gemini model used for extraction.
const DefaultModelName = "gemini-2.5-flash"

// Config configures the Gemini extractor.
type Config struct {
	// APIKey selects the Gemini API backend. When empty, the client falls
	// back to GOOGLE_API_KEY or Vertex AI settings from the environment.
	APIKey  string
	Model   string
	Timeout time.Duration
}

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiExtractor turns statement text into candidate records.
type GeminiExtractor struct {
	models  contentGenerator
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

// NewGeminiExtractor creates a Gemini client and wraps it.
func NewGeminiExtractor(ctx context.Context, cfg Config, log zerolog.Logger) (*GeminiExtractor, error) {
	clientCfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if cfg.APIKey != "" {
		clientCfg.APIKey = cfg.APIKey
		clientCfg.Backend = genai.BackendGeminiAPI
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiExtractor(client.Models, cfg, log), nil
}

func newGeminiExtractor(models contentGenerator, cfg Config, log zerolog.Logger) *GeminiExtractor {
	model := cfg.Model
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiExtractor{
		models:  models,
		model:   model,
		timeout: cfg.Timeout,
		log:     log.With().Str("component", "gemini").Str("model", model).Logger(),
	}
}

// ExtractTransactions sends text to the model and decodes the JSON records
// it returns.
func (g *GeminiExtractor) ExtractTransactions(ctx context.Context, text string) ([]domain.CandidateRecord, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: buildExtractionPrompt(text)}},
		},
	}
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	}

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, errors.New("empty response from model")
	}

	records, err := decodeRecords(rawText)
	if err != nil {
		g.log.Error().Err(err).Str("raw_response", truncateForLog(rawText)).Msg("Unparseable model output")
		return nil, err
	}

	g.log.Info().
		Int("input_chars", len(text)).
		Int("records", len(records)).
		Dur("duration", time.Since(start)).
		Msg("Extracted transactions from statement text")

	return records, nil
}

func truncateForLog(s string) string {
	const limit = 2000
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
