// Package adapter extracts candidate transaction records from raw statement
// files. Each source kind has one Adapter; the Registry selects it per job.
package adapter

import (
	"context"
	"fmt"

	"github.com/dvloznov/ledger-ingest/internal/domain"
)

// Source is a fetched statement file.
type Source struct {
	// Name identifies the file in errors and logs.
	Name string
	Data []byte
}

// Adapter extracts candidate records from one kind of source. Records are
// returned in source order. Row-level problems are left to the normalizer;
// an error means the whole source is unusable.
type Adapter interface {
	Kind() domain.SourceKind
	Extract(ctx context.Context, src Source) ([]domain.CandidateRecord, error)
}

// Registry maps source kinds to adapters.
type Registry struct {
	adapters map[domain.SourceKind]Adapter
}

// NewRegistry creates a registry. Later adapters replace earlier ones of the
// same kind.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.SourceKind]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its kind.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Kind()] = a
}

// Get returns the adapter for kind.
func (r *Registry) Get(kind domain.SourceKind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for %q", domain.ErrUnsupportedSource, kind)
	}
	return a, nil
}

// Kinds lists the registered source kinds.
func (r *Registry) Kinds() []domain.SourceKind {
	kinds := make([]domain.SourceKind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	return kinds
}
