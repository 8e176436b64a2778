package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/ledger-ingest/internal/domain"
)

// cleanModelJSON strips Markdown fences and surrounding prose from a model
// response, keeping the outermost JSON array or object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = strings.TrimSpace(s[:idx])
	}

	opening, closing := "[", "]"
	if obj, arr := strings.Index(s, "{"), strings.Index(s, "["); obj != -1 && (arr == -1 || obj < arr) {
		opening, closing = "{", "}"
	}
	if start := strings.Index(s, opening); start != -1 {
		if end := strings.LastIndex(s, closing); end > start {
			s = s[start : end+1]
		}
	}

	return strings.TrimSpace(s)
}

// decodeRecords accepts a bare array or an object with a "transactions"
// array. Numbers are kept as json.Number so amounts never pass through
// float64.
func decodeRecords(raw string) ([]domain.CandidateRecord, error) {
	clean := cleanModelJSON(raw)

	dec := json.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.UseNumber()

	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("unmarshal model JSON: %w", err)
	}

	if obj, ok := parsed.(map[string]any); ok {
		inner, ok := obj["transactions"]
		if !ok {
			return nil, fmt.Errorf("model output object has no 'transactions' key")
		}
		parsed = inner
	}

	items, ok := parsed.([]any)
	if !ok {
		return nil, fmt.Errorf("model output is %T, want array", parsed)
	}

	records := make([]domain.CandidateRecord, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("element %d is %T, want object", i, item)
		}
		rec := make(domain.CandidateRecord, len(obj))
		for k, v := range obj {
			rec[strings.ToLower(k)] = v
		}
		records = append(records, rec)
	}
	return records, nil
}
