// Package category maps free-text labels to persisted, user-scoped
// categories, creating them on first use.
package category

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the persistence the resolver needs. EnsureCategory must insert the
// category unless one with the same user, polarity and case-insensitive name
// exists, and return whichever row is stored.
type Store interface {
	FindCategory(ctx context.Context, userID, name string, polarity domain.Polarity) (*domain.Category, error)
	EnsureCategory(ctx context.Context, c *domain.Category) (*domain.Category, error)
}

// Resolver resolves labels for one user. Results are cached for the
// resolver's lifetime, so one resolver should serve one job. It is not safe
// for concurrent use.
type Resolver struct {
	store  Store
	userID string
	cache  map[string]*domain.Category
	log    zerolog.Logger
	now    func() time.Time
}

// NewResolver creates a resolver bound to userID.
func NewResolver(store Store, userID string, log zerolog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		userID: userID,
		cache:  make(map[string]*domain.Category),
		log:    log,
		now:    time.Now,
	}
}

// Resolve returns the category for label and direction. An empty label
// resolves to the direction's default category.
func (r *Resolver) Resolve(ctx context.Context, label string, direction domain.Direction) (*domain.Category, error) {
	name := strings.TrimSpace(label)
	if name == "" {
		name = domain.DefaultCategoryName(direction)
	}
	polarity := direction.Polarity()

	key := cacheKey(name, polarity)
	if c, ok := r.cache[key]; ok {
		return c, nil
	}

	c, err := r.store.FindCategory(ctx, r.userID, name, polarity)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		c, err = r.create(ctx, name, polarity)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("find category %q: %w", name, err)
	}

	r.cache[key] = c
	return c, nil
}

func (r *Resolver) create(ctx context.Context, name string, polarity domain.Polarity) (*domain.Category, error) {
	color, icon := domain.CategoryStyle(polarity)
	candidate := &domain.Category{
		ID:        uuid.New().String(),
		UserID:    r.userID,
		Name:      name,
		Polarity:  polarity,
		Color:     color,
		Icon:      icon,
		CreatedAt: r.now().UTC(),
	}

	stored, err := r.store.EnsureCategory(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("create category %q: %w", name, err)
	}

	if stored.ID == candidate.ID {
		r.log.Info().
			Str("category_id", stored.ID).
			Str("name", stored.Name).
			Str("polarity", string(polarity)).
			Msg("Created category")
	}
	return stored, nil
}

// Size reports how many distinct categories have been resolved.
func (r *Resolver) Size() int {
	return len(r.cache)
}

func cacheKey(name string, polarity domain.Polarity) string {
	return string(polarity) + "|" + strings.ToLower(name)
}
