package categories

import (
	"fmt"

	"github.com/garagesale/treasury/internal/model"
)

// Outcome is the result class of classifying a bank line.
type Outcome int

const (
	OK Outcome = iota
	Unknown
	WrongKind
	ChildOnly
)

// Result describes how a bank line's category measures up.
type Result struct {
	Outcome  Outcome
	Category string
	Side     model.Kind // side carrying the transaction's amount
	Parent   string     // set for ChildOnly
}

// OK reports whether the category is usable.
func (r Result) OK() bool {
	return r.Outcome == OK
}

// Message is the text journalled for a failed classification.
func (r Result) Message() string {
	switch r.Outcome {
	case Unknown:
		if r.Category == "" {
			return "Missing category"
		}
		return fmt.Sprintf("Unknown category %s", r.Category)
	case WrongKind:
		return fmt.Sprintf("Category %s cannot be used on a %s", r.Category, r.Side)
	case ChildOnly:
		return fmt.Sprintf("Category %s can only be used on a split of %s", r.Category, r.Parent)
	}
	return ""
}

// Classify checks a bank line's category against the registry.
func (s *Service) Classify(t model.Transaction) Result {
	r := Result{Category: t.Category, Side: t.Kind()}
	c, ok := s.Get(t.Category)
	switch {
	case !ok:
		r.Outcome = Unknown
	case c.IsChild():
		r.Outcome = ChildOnly
		r.Parent = c.Parent
	case c.Kind != r.Side:
		r.Outcome = WrongKind
	}
	return r
}

// SplitCategoryError rejects a split category that does not refine the
// parent's category.
type SplitCategoryError struct {
	Category       string
	ParentCategory string
}

func (e *SplitCategoryError) Error() string {
	if e.ParentCategory == "" {
		return fmt.Sprintf("category %q cannot split an uncategorised transaction", e.Category)
	}
	return fmt.Sprintf("category %q is not a child of %q", e.Category, e.ParentCategory)
}

// CheckSplit validates a split child's category against its parent's.
func (s *Service) CheckSplit(category, parentCategory string) error {
	c, ok := s.Get(category)
	if !ok || c.Parent == "" || c.Parent != parentCategory {
		return &SplitCategoryError{Category: category, ParentCategory: parentCategory}
	}
	return nil
}
