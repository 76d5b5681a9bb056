// Package categories holds the category registry and the classification
// rules transactions are checked against.
package categories

import (
	"context"
	"fmt"
	"os"

	"github.com/garagesale/treasury/internal/model"
)

// Lister is the store surface the registry loads from.
type Lister interface {
	ListCategories(ctx context.Context) ([]model.Category, error)
}

// Service provides in-memory lookup over the category registry.
type Service struct {
	categories []model.Category
	byName     map[string]model.Category
	children   map[string][]model.Category
}

// NewService creates a Service from a slice of categories.
func NewService(cats []model.Category) *Service {
	byName := make(map[string]model.Category, len(cats))
	children := make(map[string][]model.Category)
	for _, c := range cats {
		byName[c.Name] = c
		if c.IsChild() {
			children[c.Parent] = append(children[c.Parent], c)
		}
	}
	return &Service{categories: cats, byName: byName, children: children}
}

// Load reads the current registry from the store.
func Load(ctx context.Context, l Lister) (*Service, error) {
	cats, err := l.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading categories: %w", err)
	}
	return NewService(cats), nil
}

// LoadFile reads a categories CSV.
func LoadFile(path string) ([]model.Category, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening categories file: %w", err)
	}
	defer f.Close()

	cats, err := ReadCategories(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return cats, nil
}

// All returns all categories.
func (s *Service) All() []model.Category {
	return s.categories
}

// Get returns a category by name.
func (s *Service) Get(name string) (model.Category, bool) {
	c, ok := s.byName[name]
	return c, ok
}

// Exists reports whether a category name exists.
func (s *Service) Exists(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Children returns the categories refining name.
func (s *Service) Children(name string) []model.Category {
	return s.children[name]
}

// HasChildren reports whether a bank line in category name can be split.
func (s *Service) HasChildren(name string) bool {
	return len(s.children[name]) > 0
}

// ByKind returns the top-level categories of a kind.
func (s *Service) ByKind(kind model.Kind) []model.Category {
	var result []model.Category
	for _, c := range s.categories {
		if c.Kind == kind && !c.IsChild() {
			result = append(result, c)
		}
	}
	return result
}

// ValidFor returns the categories an operator may choose for t. A bank line
// takes a top-level category of its own kind; a split child takes a child
// of its parent's category.
func (s *Service) ValidFor(t model.Transaction, parentCategory string) []model.Category {
	if t.IsSplit() {
		return s.Children(parentCategory)
	}
	return s.ByKind(t.Kind())
}
