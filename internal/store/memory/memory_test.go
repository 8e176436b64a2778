package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/store"
	"github.com/dvloznov/ledger-ingest/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	storetest.SeedAccount(t, s, "acct-1")

	a, err := s.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	a.Currency = "EUR"

	again, err := s.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "USD", again.Currency)
}

func TestConcurrentEnsureCategory(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := s.EnsureCategory(ctx, &domain.Category{
				ID:       string(rune('a' + i)),
				UserID:   "user-1",
				Name:     "Coffee",
				Polarity: domain.PolarityExpense,
			})
			if assert.NoError(t, err) {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}
