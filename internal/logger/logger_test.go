package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New()
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("Expected info level, got %s", log.GetLevel())
	}
}

func TestNewWithOptions_JSONAndLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithOptions(Options{Level: "WARN", Format: "json", Output: buf})

	log.Info().Msg("hidden")
	log.Warn().Str("job_id", "j1").Msg("visible")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("Expected info message to be filtered, got: %s", output)
	}
	if !strings.Contains(output, `"job_id":"j1"`) {
		t.Errorf("Expected JSON field in output, got: %s", output)
	}
}

func TestNewWithOptions_InvalidLevelFallsBack(t *testing.T) {
	log := NewWithOptions(Options{Level: "chatty", Output: &bytes.Buffer{}})
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("Expected fallback to info, got %s", log.GetLevel())
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	if !strings.Contains(buf.String(), "test message") {
		t.Errorf("Expected output to contain 'test message', got: %s", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	retrievedLog := FromContext(ctx)
	retrievedLog.Info().Msg("test")

	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestForJob(t *testing.T) {
	buf := &bytes.Buffer{}
	log := ForJob(NewWithWriter(buf), "job-1", "acc-1")

	log.Info().Msg("started")

	output := buf.String()
	if !strings.Contains(output, `"job_id":"job-1"`) || !strings.Contains(output, `"account_id":"acc-1"`) {
		t.Errorf("Expected job fields, got: %s", output)
	}
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithFields(NewWithWriter(buf), map[string]interface{}{
		"user_id": "123",
		"action":  "test",
	})

	log.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, "user_id") || !strings.Contains(output, "123") {
		t.Errorf("Expected output to contain user_id field, got: %s", output)
	}
}
