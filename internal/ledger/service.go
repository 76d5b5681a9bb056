package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/garagesale/treasury/internal/auth"
	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/journal"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/store"
)

// ErrInvalidAccount is returned when an account is opened with missing or
// malformed details.
var ErrInvalidAccount = errors.New("invalid account")

// ErrBalanceFixed is returned when a starting balance change comes after
// the account's first bank line.
var ErrBalanceFixed = store.ErrBalanceFixed

// Service exposes the ledger to operators, checking permissions and running
// each mutation in its own database transaction.
type Service struct {
	db  *store.Store
	log zerolog.Logger
}

// NewService creates a ledger Service.
func NewService(db *store.Store, log zerolog.Logger) *Service {
	return &Service{db: db, log: log}
}

func (s *Service) ledger(ctx context.Context, q *store.Queries) (*Ledger, *categories.Service, error) {
	cats, err := categories.Load(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	return New(q, cats), cats, nil
}

// Account returns an account after checking view permission.
func (s *Service) Account(ctx context.Context, p auth.Principal, id int64) (model.Account, error) {
	if err := p.Require(auth.View); err != nil {
		return model.Account{}, err
	}
	return s.db.GetAccount(ctx, id)
}

// Accounts lists every account.
func (s *Service) Accounts(ctx context.Context, p auth.Principal) ([]model.Account, error) {
	if err := p.Require(auth.View); err != nil {
		return nil, err
	}
	return s.db.ListAccounts(ctx)
}

// OpenAccount registers a bank account with its balance before the first
// statement line.
func (s *Service) OpenAccount(ctx context.Context, p auth.Principal, acct model.Account) (model.Account, error) {
	if err := p.Require(auth.Edit); err != nil {
		return model.Account{}, err
	}
	if acct.BankName == "" || acct.SortCode == "" || acct.AccountNumber == "" {
		return model.Account{}, fmt.Errorf("%w: bank name, sort code and account number are required", ErrInvalidAccount)
	}
	if !acct.StartingBalance.Equal(acct.StartingBalance.Round(2)) {
		return model.Account{}, fmt.Errorf("%w: starting balance %s has more than 2 decimal places", ErrInvalidAccount, acct.StartingBalance)
	}
	acct.LastTransactionNumber = 0
	if err := s.db.CreateAccount(ctx, &acct); err != nil {
		return model.Account{}, fmt.Errorf("open account: %w", err)
	}
	s.log.Info().Int64("account", acct.ID).Str("bank", acct.BankName).Msg("account opened")
	return acct, nil
}

// SetStartingBalance changes an account's opening balance. Once the account
// has a bank line it fails with ErrBalanceFixed.
func (s *Service) SetStartingBalance(ctx context.Context, p auth.Principal, accountID int64, balance decimal.Decimal) (model.Account, error) {
	if err := p.Require(auth.Edit); err != nil {
		return model.Account{}, err
	}
	if !balance.Equal(balance.Round(2)) {
		return model.Account{}, fmt.Errorf("%w: starting balance %s has more than 2 decimal places", ErrInvalidAccount, balance)
	}
	var acct model.Account
	err := s.db.WithTx(ctx, func(q *store.Queries) error {
		if err := q.SetStartingBalance(ctx, accountID, balance); err != nil {
			return err
		}
		var err error
		acct, err = q.GetAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return model.Account{}, err
	}
	s.log.Info().Int64("account", acct.ID).Str("starting_balance", balance.StringFixed(2)).Str("user", p.User).Msg("starting balance set")
	return acct, nil
}

// Transaction returns one transaction.
func (s *Service) Transaction(ctx context.Context, p auth.Principal, id int64) (model.Transaction, error) {
	if err := p.Require(auth.View); err != nil {
		return model.Transaction{}, err
	}
	return s.db.GetTransaction(ctx, id)
}

// Lines lists an account's bank lines with balances and remaining amounts.
func (s *Service) Lines(ctx context.Context, p auth.Principal, accountID int64, period *model.Period) ([]model.BankLine, error) {
	if err := p.Require(auth.View); err != nil {
		return nil, err
	}
	acct, err := s.db.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	l, _, err := s.ledger(ctx, s.db.Queries)
	if err != nil {
		return nil, err
	}
	return l.Lines(ctx, acct, period)
}

// Entries lists bank lines interleaved with their split children.
func (s *Service) Entries(ctx context.Context, p auth.Principal, accountID int64, period *model.Period) ([]model.Entry, error) {
	if err := p.Require(auth.View); err != nil {
		return nil, err
	}
	acct, err := s.db.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	l, _, err := s.ledger(ctx, s.db.Queries)
	if err != nil {
		return nil, err
	}
	var out []model.Entry
	for e, err := range l.Combined(ctx, acct, period) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ValidCategories lists the categories an operator may choose for a transaction.
func (s *Service) ValidCategories(ctx context.Context, p auth.Principal, id int64) ([]model.Category, error) {
	if err := p.Require(auth.View); err != nil {
		return nil, err
	}
	t, err := s.db.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	cats, err := categories.Load(ctx, s.db)
	if err != nil {
		return nil, err
	}
	var parentCategory string
	if t.IsSplit() {
		parent, err := s.db.GetTransaction(ctx, t.ParentID)
		if err != nil {
			return nil, fmt.Errorf("split parent: %w", err)
		}
		parentCategory = parent.Category
	}
	return cats.ValidFor(t, parentCategory), nil
}

// AddSplit adds a split child and reclassifies its parent.
func (s *Service) AddSplit(ctx context.Context, p auth.Principal, parentID int64, split Split) (model.Transaction, error) {
	return s.mutateSplit(ctx, p, "added", func(l *Ledger) (model.Transaction, error) {
		return l.AddSplit(ctx, parentID, split)
	})
}

// EditSplit changes a split child and reclassifies its parent.
func (s *Service) EditSplit(ctx context.Context, p auth.Principal, id int64, split Split) (model.Transaction, error) {
	return s.mutateSplit(ctx, p, "edited", func(l *Ledger) (model.Transaction, error) {
		return l.EditSplit(ctx, id, split)
	})
}

// DeleteSplit removes a split child.
func (s *Service) DeleteSplit(ctx context.Context, p auth.Principal, id int64) (model.Transaction, error) {
	return s.mutateSplit(ctx, p, "deleted", func(l *Ledger) (model.Transaction, error) {
		return l.DeleteSplit(ctx, id)
	})
}

func (s *Service) mutateSplit(ctx context.Context, p auth.Principal, verb string, fn func(*Ledger) (model.Transaction, error)) (model.Transaction, error) {
	if err := p.Require(auth.Edit); err != nil {
		return model.Transaction{}, err
	}
	var child model.Transaction
	err := s.db.WithTx(ctx, func(q *store.Queries) error {
		l, cats, err := s.ledger(ctx, q)
		if err != nil {
			return err
		}
		if child, err = fn(l); err != nil {
			return err
		}
		parent, err := q.GetTransaction(ctx, child.ParentID)
		if err != nil {
			return fmt.Errorf("split parent: %w", err)
		}
		if _, err := journal.Reclassify(ctx, q, cats, parent); err != nil {
			return fmt.Errorf("reclassifying transaction %d: %w", parent.ID, err)
		}
		return nil
	})
	if err != nil {
		return model.Transaction{}, err
	}
	s.log.Info().
		Int64("account", child.AccountID).
		Int64("parent", child.ParentID).
		Int64("split", child.ID).
		Str("category", child.Category).
		Str("amount", child.Amount().StringFixed(2)).
		Str("user", p.User).
		Msgf("split %s", verb)
	return child, nil
}

// Verify checks an account's ledger rules and logs each violation.
func (s *Service) Verify(ctx context.Context, p auth.Principal, accountID int64) ([]ValidationError, error) {
	if err := p.Require(auth.View); err != nil {
		return nil, err
	}
	acct, err := s.db.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	l, _, err := s.ledger(ctx, s.db.Queries)
	if err != nil {
		return nil, err
	}
	errs, err := l.Verify(ctx, acct, nil)
	if err != nil {
		return nil, err
	}
	for _, ve := range errs {
		s.log.Error().Int64("account", acct.ID).Str("rule", ve.Rule).Int("tx_number", ve.TxNumber).Msg(ve.Description)
	}
	return errs, nil
}

// Export writes an account's bank lines as a statement CSV.
func (s *Service) Export(ctx context.Context, p auth.Principal, accountID int64, period *model.Period, w io.Writer) error {
	if err := p.Require(auth.View); err != nil {
		return err
	}
	acct, err := s.db.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	return WriteStatement(w, acct, New(s.db.Queries, nil).BankOnly(ctx, acct, period))
}
