package migrate

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  int
		name     string
	}{
		{"0001_init_schema.sql", true, 1, "init_schema"},
		{"0042_add_queue.sql", true, 42, "add_queue"},
		{"001_invalid.sql", false, 0, ""},
		{"0001_test", false, 0, ""},
		{"0001.sql", false, 0, ""},
		{"invalid_0001_test.sql", false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := ParseFilename(tt.filename)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.version, version)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestLoad(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_second.sql": {Data: []byte("CREATE TABLE b (id INT);")},
		"m/0001_first.sql":  {Data: []byte("CREATE TABLE a (id INT);")},
		"m/README.md":       {Data: []byte("notes")},
	}

	migrations, err := Load(fsys, "m")
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "second", migrations[1].Name)
	assert.Equal(t, Checksum([]byte("CREATE TABLE a (id INT);")), migrations[0].Checksum)
}

func TestLoad_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0001_a.sql": {Data: []byte("x")},
		"m/0001_b.sql": {Data: []byte("y")},
	}
	_, err := Load(fsys, "m")
	assert.ErrorContains(t, err, "duplicate migration version")
}

func TestChecksumConsistency(t *testing.T) {
	assert.Equal(t, Checksum([]byte("CREATE TABLE t (id INT);")), Checksum([]byte("CREATE TABLE t (id INT);")))
	assert.NotEqual(t, Checksum([]byte("CREATE TABLE t (id INT);")), Checksum([]byte("CREATE TABLE u (id INT);")))
}

type fakeTarget struct {
	applied  []AppliedMigration
	ran      []int
	ApplyErr error
}

func (f *fakeTarget) EnsureTable(context.Context) error { return nil }

func (f *fakeTarget) Applied(context.Context) ([]AppliedMigration, error) { return f.applied, nil }

func (f *fakeTarget) Apply(_ context.Context, m Migration, appliedBy string) error {
	if f.ApplyErr != nil {
		return f.ApplyErr
	}
	f.ran = append(f.ran, m.Version)
	f.applied = append(f.applied, AppliedMigration{Version: m.Version, Name: m.Name, Checksum: m.Checksum, AppliedBy: appliedBy})
	return nil
}

func TestRun_AppliesPendingOnly(t *testing.T) {
	target := &fakeTarget{applied: []AppliedMigration{{Version: 1, Name: "first"}}}
	migrations := []Migration{{Version: 1, Name: "first"}, {Version: 2, Name: "second"}}

	n, err := Run(context.Background(), target, migrations, "test", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int{2}, target.ran)

	n, err = Run(context.Background(), target, migrations, "test", zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_StopsOnError(t *testing.T) {
	target := &fakeTarget{ApplyErr: errors.New("syntax error")}

	_, err := Run(context.Background(), target, []Migration{{Version: 1, Name: "bad"}}, "test", zerolog.Nop())
	assert.ErrorContains(t, err, "0001_bad")
}
