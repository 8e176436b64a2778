package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dvloznov/ledger-ingest/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_SQLite(t *testing.T) {
	ctx := context.Background()
	db := config.DatabaseConfig{Driver: "sqlite", URL: filepath.Join(t.TempDir(), "ledger.db")}

	var status bytes.Buffer
	require.NoError(t, run(ctx, db, "tester", true, &status, zerolog.Nop()))
	assert.Equal(t, 1, strings.Count(status.String(), "\n"), "only the header before migrating")

	var out bytes.Buffer
	require.NoError(t, run(ctx, db, "tester", false, &out, zerolog.Nop()))
	assert.Contains(t, out.String(), "0001")
	assert.Contains(t, out.String(), "init")
	assert.Contains(t, out.String(), "tester")

	var again bytes.Buffer
	require.NoError(t, run(ctx, db, "someone-else", false, &again, zerolog.Nop()))
	assert.Equal(t, out.String(), again.String())
}

func TestRun_UnsupportedDriver(t *testing.T) {
	err := run(context.Background(), config.DatabaseConfig{Driver: "memory"}, "tester", false, &bytes.Buffer{}, zerolog.Nop())
	assert.Error(t, err)
}
