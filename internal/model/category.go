package model

// Kind says which side of a bank line a category may be used on.
type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

// Valid reports whether k is one of the two known kinds.
func (k Kind) Valid() bool {
	return k == KindCredit || k == KindDebit
}

// ParseKind accepts "credit"/"debit" and the single-letter forms "C"/"D".
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "credit", "C", "c":
		return KindCredit, true
	case "debit", "D", "d":
		return KindDebit, true
	}
	return "", false
}

// Category classifies transactions. A category with a Parent is only valid
// on a split child whose parent transaction carries the Parent category.
type Category struct {
	ID     int64
	Name   string
	Kind   Kind
	Parent string // "" = top-level
}

// IsChild reports whether the category refines another one.
func (c Category) IsChild() bool {
	return c.Parent != ""
}
