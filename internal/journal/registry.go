package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/garagesale/treasury/internal/auth"
	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/store"
)

// ErrInvalidCategory is returned when a category cannot join the registry.
var ErrInvalidCategory = errors.New("invalid category")

// Categories returns the current registry.
func (s *Service) Categories(ctx context.Context, p auth.Principal) ([]model.Category, error) {
	if err := p.Require(auth.View); err != nil {
		return nil, err
	}
	return s.db.ListCategories(ctx)
}

// AddCategories adds categories to the registry in one database
// transaction. Names that already exist with the same kind and parent are
// skipped. A child must share its parent's kind, and the parent must
// already exist or appear earlier in cats. Run Revalidate afterwards to
// clear journal entries the new categories resolve.
func (s *Service) AddCategories(ctx context.Context, p auth.Principal, cats []model.Category) (added int, err error) {
	if err := p.Require(auth.Edit); err != nil {
		return 0, err
	}
	err = s.db.WithTx(ctx, func(q *store.Queries) error {
		reg, err := categories.Load(ctx, q)
		if err != nil {
			return err
		}
		known := make(map[string]model.Category, len(cats))
		for _, c := range reg.All() {
			known[c.Name] = c
		}
		for _, c := range cats {
			if err := checkCategory(known, c); err != nil {
				return err
			}
			if _, ok := known[c.Name]; ok {
				continue
			}
			if err := q.CreateCategory(ctx, &c); err != nil {
				return err
			}
			known[c.Name] = c
			added++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("add categories: %w", err)
	}
	if added > 0 {
		s.log.Info().Int("added", added).Str("user", p.User).Msg("categories added")
	}
	return added, nil
}

func checkCategory(known map[string]model.Category, c model.Category) error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCategory)
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: %q has kind %q, want credit or debit", ErrInvalidCategory, c.Name, c.Kind)
	}
	if existing, ok := known[c.Name]; ok {
		if existing.Kind != c.Kind || existing.Parent != c.Parent {
			return fmt.Errorf("%w: %q already exists as %s under %q", ErrInvalidCategory, c.Name, existing.Kind, existing.Parent)
		}
		return nil
	}
	if c.Parent == "" {
		return nil
	}
	parent, ok := known[c.Parent]
	switch {
	case !ok:
		return fmt.Errorf("%w: parent %q of %q does not exist", ErrInvalidCategory, c.Parent, c.Name)
	case parent.IsChild():
		return fmt.Errorf("%w: parent %q of %q is itself a child category", ErrInvalidCategory, c.Parent, c.Name)
	case parent.Kind != c.Kind:
		return fmt.Errorf("%w: %q is %s but parent %q is %s", ErrInvalidCategory, c.Name, c.Kind, c.Parent, parent.Kind)
	}
	return nil
}
