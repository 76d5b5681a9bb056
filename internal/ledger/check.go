package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/model"
)

// Rules checked by Check.
const (
	RuleOneSided         = "one-sided"
	RuleDecimals         = "decimals"
	RuleSequence         = "sequence"
	RuleDateOrder        = "date-order"
	RuleStatementBalance = "statement-balance"
	RuleSplitAllocation  = "split-allocation"
	RuleSplitCategory    = "split-category"
)

// ValidationError describes a single ledger rule violation.
type ValidationError struct {
	Rule          string
	TransactionID int64
	TxNumber      int
	Description   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s [#%d id %d]: %s", e.Rule, e.TxNumber, e.TransactionID, e.Description)
}

// Check tests bank lines (in tx_number order, with derived balances) and
// their split children against the ledger rules. Numbering must run
// consecutively from the first line's tx_number.
func Check(lines []model.BankLine, splits []model.Transaction) []ValidationError {
	var errs []ValidationError

	for i, line := range lines {
		errs = append(errs, checkAmounts(line.Transaction)...)

		if want := lines[0].TxNumber + i; line.TxNumber != want {
			errs = append(errs, ValidationError{
				Rule:          RuleSequence,
				TransactionID: line.ID,
				TxNumber:      line.TxNumber,
				Description:   fmt.Sprintf("expected tx_number %d", want),
			})
		}
		if i > 0 && line.Date.Before(lines[i-1].Date) {
			errs = append(errs, ValidationError{
				Rule:          RuleDateOrder,
				TransactionID: line.ID,
				TxNumber:      line.TxNumber,
				Description: fmt.Sprintf("dated %s, before #%d on %s",
					line.Date.Format(model.DateFormat), lines[i-1].TxNumber, lines[i-1].Date.Format(model.DateFormat)),
			})
		}
		if line.StatementBalance.Valid && !line.StatementBalance.Decimal.Equal(line.Balance) {
			errs = append(errs, ValidationError{
				Rule:          RuleStatementBalance,
				TransactionID: line.ID,
				TxNumber:      line.TxNumber,
				Description: fmt.Sprintf("statement balance %s, computed %s",
					line.StatementBalance.Decimal.StringFixed(2), line.Balance.StringFixed(2)),
			})
		}
	}

	byID := make(map[int64]model.BankLine, len(lines))
	for _, line := range lines {
		byID[line.ID] = line
	}
	credit := make(map[int64]decimal.Decimal)
	debit := make(map[int64]decimal.Decimal)
	for _, s := range splits {
		errs = append(errs, checkAmounts(s)...)
		credit[s.ParentID] = credit[s.ParentID].Add(s.Credit)
		debit[s.ParentID] = debit[s.ParentID].Add(s.Debit)
	}
	for _, line := range lines {
		c, d := credit[line.ID], debit[line.ID]
		if c.GreaterThan(line.Credit) || d.GreaterThan(line.Debit) {
			errs = append(errs, ValidationError{
				Rule:          RuleSplitAllocation,
				TransactionID: line.ID,
				TxNumber:      line.TxNumber,
				Description: fmt.Sprintf("splits total credit %s debit %s against credit %s debit %s",
					c.StringFixed(2), d.StringFixed(2), line.Credit.StringFixed(2), line.Debit.StringFixed(2)),
			})
		}
	}
	for parent := range credit {
		if _, ok := byID[parent]; !ok {
			errs = append(errs, ValidationError{
				Rule:          RuleSplitAllocation,
				TransactionID: parent,
				Description:   "splits reference a transaction outside the checked lines",
			})
		}
	}

	return errs
}

func checkAmounts(t model.Transaction) []ValidationError {
	var errs []ValidationError
	if !t.OneSided() {
		errs = append(errs, ValidationError{
			Rule:          RuleOneSided,
			TransactionID: t.ID,
			TxNumber:      t.TxNumber,
			Description:   "transaction must have exactly one of debit or credit",
		})
	}
	for _, amt := range []decimal.Decimal{t.Debit, t.Credit} {
		if !amt.Equal(amt.Round(2)) {
			errs = append(errs, ValidationError{
				Rule:          RuleDecimals,
				TransactionID: t.ID,
				TxNumber:      t.TxNumber,
				Description:   fmt.Sprintf("amount %s has more than 2 decimal places", amt),
			})
		}
	}
	return errs
}

// CheckSplitCategories reports split children whose category is not a
// child of their bank line's category. Splits of lines outside lines are
// skipped.
func CheckSplitCategories(lines []model.BankLine, splits []model.Transaction, cats *categories.Service) []ValidationError {
	byID := make(map[int64]model.BankLine, len(lines))
	for _, line := range lines {
		byID[line.ID] = line
	}
	var errs []ValidationError
	for _, s := range splits {
		parent, ok := byID[s.ParentID]
		if !ok {
			continue
		}
		if err := cats.CheckSplit(s.Category, parent.Category); err != nil {
			errs = append(errs, ValidationError{
				Rule:          RuleSplitCategory,
				TransactionID: s.ID,
				TxNumber:      parent.TxNumber,
				Description:   err.Error(),
			})
		}
	}
	return errs
}

// Verify checks an account's ledger, or one period of it. A whole-account
// check also requires numbering to start at 1.
func (l *Ledger) Verify(ctx context.Context, acct model.Account, period *model.Period) ([]ValidationError, error) {
	lines, err := l.Lines(ctx, acct, period)
	if err != nil {
		return nil, err
	}
	splits, err := l.Splits(ctx, acct, period)
	if err != nil {
		return nil, err
	}
	errs := Check(lines, splits)
	if l.cats != nil {
		errs = append(errs, CheckSplitCategories(lines, splits, l.cats)...)
	}
	if period == nil && len(lines) > 0 && lines[0].TxNumber != 1 {
		errs = append(errs, ValidationError{
			Rule:          RuleSequence,
			TransactionID: lines[0].ID,
			TxNumber:      lines[0].TxNumber,
			Description:   "numbering does not start at 1",
		})
	}
	return errs, nil
}
