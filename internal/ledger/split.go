package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/model"
)

// SplitReason is the machine-readable cause of a rejected split change.
type SplitReason string

const (
	ReasonNotBankLine      SplitReason = "not_bank_line"
	ReasonNotSplit         SplitReason = "not_split"
	ReasonCategoryMismatch SplitReason = "category_mismatch"
	ReasonOverAllocated    SplitReason = "over_allocated"
	ReasonInvalidAmount    SplitReason = "invalid_amount"
	ReasonInvalidKind      SplitReason = "invalid_kind"
)

// SplitError rejects a split change. Nothing is written when it is returned.
type SplitError struct {
	Reason  SplitReason
	Message string
}

func (e *SplitError) Error() string {
	return fmt.Sprintf("split rejected (%s): %s", e.Reason, e.Message)
}

func splitErr(reason SplitReason, format string, args ...any) error {
	return &SplitError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Split describes a split child's amount and classification.
type Split struct {
	Amount   decimal.Decimal
	Kind     model.Kind
	Category string
}

// AddSplit creates a split child under a bank line. The child copies the
// parent's account, date and description and carries only the one amount.
func (l *Ledger) AddSplit(ctx context.Context, parentID int64, s Split) (model.Transaction, error) {
	parent, err := l.q.GetTransaction(ctx, parentID)
	if err != nil {
		return model.Transaction{}, err
	}
	if parent.IsSplit() {
		return model.Transaction{}, splitErr(ReasonNotBankLine, "transaction %d is itself a split", parentID)
	}
	if err := l.checkSplit(ctx, parent, 0, s); err != nil {
		return model.Transaction{}, err
	}

	child := model.Transaction{
		AccountID:   parent.AccountID,
		ParentID:    parent.ID,
		Date:        parent.Date,
		Description: parent.Description,
		Name:        parent.Name,
		Category:    s.Category,
	}
	setAmount(&child, s)
	if err := l.q.InsertTransaction(ctx, &child); err != nil {
		return model.Transaction{}, err
	}
	return child, nil
}

// EditSplit replaces a split child's amount and category.
func (l *Ledger) EditSplit(ctx context.Context, id int64, s Split) (model.Transaction, error) {
	child, err := l.q.GetTransaction(ctx, id)
	if err != nil {
		return model.Transaction{}, err
	}
	if !child.IsSplit() {
		return model.Transaction{}, splitErr(ReasonNotSplit, "transaction %d is a bank line", id)
	}
	parent, err := l.q.GetTransaction(ctx, child.ParentID)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("split parent: %w", err)
	}
	if err := l.checkSplit(ctx, parent, child.ID, s); err != nil {
		return model.Transaction{}, err
	}

	child.Category = s.Category
	setAmount(&child, s)
	if err := l.q.UpdateSplit(ctx, child.ID, child.Category, child.Debit, child.Credit); err != nil {
		return model.Transaction{}, err
	}
	return child, nil
}

// DeleteSplit removes a split child, freeing its amount on the parent.
// Bank lines cannot be deleted this way.
func (l *Ledger) DeleteSplit(ctx context.Context, id int64) (model.Transaction, error) {
	child, err := l.q.GetTransaction(ctx, id)
	if err != nil {
		return model.Transaction{}, err
	}
	if !child.IsSplit() {
		return model.Transaction{}, splitErr(ReasonNotSplit, "transaction %d is a bank line", id)
	}
	if err := l.q.DeleteTransaction(ctx, id); err != nil {
		return model.Transaction{}, err
	}
	return child, nil
}

// Remaining returns the parent's credit and debit not yet covered by splits,
// ignoring the split with ID exclude.
func (l *Ledger) Remaining(ctx context.Context, parent model.Transaction, exclude int64) (credit, debit decimal.Decimal, err error) {
	children, err := l.q.SplitsOf(ctx, parent.ID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	credit, debit = parent.Credit, parent.Debit
	for _, c := range children {
		if c.ID == exclude {
			continue
		}
		credit = credit.Sub(c.Credit)
		debit = debit.Sub(c.Debit)
	}
	return credit, debit, nil
}

func (l *Ledger) checkSplit(ctx context.Context, parent model.Transaction, exclude int64, s Split) error {
	if !s.Kind.Valid() {
		return splitErr(ReasonInvalidKind, "kind %q is not credit or debit", s.Kind)
	}
	if !s.Amount.IsPositive() || !s.Amount.Equal(s.Amount.Round(2)) {
		return splitErr(ReasonInvalidAmount, "amount %s must be positive with at most 2 decimal places", s.Amount)
	}
	if l.cats == nil {
		return errors.New("ledger has no category registry")
	}
	if err := l.cats.CheckSplit(s.Category, parent.Category); err != nil {
		var scErr *categories.SplitCategoryError
		if errors.As(err, &scErr) {
			return splitErr(ReasonCategoryMismatch, "%s", scErr.Error())
		}
		return err
	}

	credit, debit, err := l.Remaining(ctx, parent, exclude)
	if err != nil {
		return err
	}
	remaining := credit
	if s.Kind == model.KindDebit {
		remaining = debit
	}
	if s.Amount.GreaterThan(remaining) {
		return splitErr(ReasonOverAllocated, "%s %s exceeds the %s remaining on transaction %d",
			s.Kind, s.Amount.StringFixed(2), remaining.StringFixed(2), parent.ID)
	}
	return nil
}

func setAmount(t *model.Transaction, s Split) {
	t.Credit, t.Debit = decimal.Zero, decimal.Zero
	if s.Kind == model.KindCredit {
		t.Credit = s.Amount
	} else {
		t.Debit = s.Amount
	}
}
