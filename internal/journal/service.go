package journal

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/garagesale/treasury/internal/auth"
	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/store"
)

// Service lists journalled errors and applies operator corrections.
type Service struct {
	db  *store.Store
	log zerolog.Logger
}

// NewService creates a journal Service.
func NewService(db *store.Store, log zerolog.Logger) *Service {
	return &Service{db: db, log: log}
}

// Edit holds an operator's change to a transaction. Nil fields are left alone.
type Edit struct {
	Name     *string
	Category *string
}

// EditTransaction applies an edit and reclassifies the transaction in the
// same database transaction. A split child's new category must refine its
// parent's category.
func (s *Service) EditTransaction(ctx context.Context, p auth.Principal, id int64, edit Edit) (model.Transaction, Change, error) {
	if err := p.Require(auth.Edit); err != nil {
		return model.Transaction{}, Unchanged, err
	}

	var out model.Transaction
	var change Change
	err := s.db.WithTx(ctx, func(q *store.Queries) error {
		t, err := q.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		cats, err := categories.Load(ctx, q)
		if err != nil {
			return err
		}

		if edit.Name != nil {
			t.Name = strings.TrimSpace(*edit.Name)
		}
		if edit.Category != nil {
			t.Category = strings.TrimSpace(*edit.Category)
		}
		if t.IsSplit() && edit.Category != nil {
			parent, err := q.GetTransaction(ctx, t.ParentID)
			if err != nil {
				return fmt.Errorf("split parent: %w", err)
			}
			if err := cats.CheckSplit(t.Category, parent.Category); err != nil {
				return err
			}
		}
		if !t.IsSplit() && edit.Category != nil {
			children, err := q.SplitsOf(ctx, t.ID)
			if err != nil {
				return err
			}
			for _, child := range children {
				if err := cats.CheckSplit(child.Category, t.Category); err != nil {
					return fmt.Errorf("split %d: %w", child.ID, err)
				}
			}
		}

		if err := q.UpdateClassification(ctx, t.ID, t.Name, t.Category); err != nil {
			return err
		}
		change, err = Reclassify(ctx, q, cats, t)
		if err != nil {
			return fmt.Errorf("reclassifying transaction %d: %w", t.ID, err)
		}
		out = t
		return nil
	})
	if err != nil {
		return model.Transaction{}, Unchanged, err
	}

	s.logChange(out, change, p.User)
	return out, change, nil
}

// Summary counts what a revalidation pass did.
type Summary struct {
	Checked int
	Cleared int
	Updated int
}

// Revalidate reclassifies every journalled transaction of an account, for
// example after missing categories have been added.
func (s *Service) Revalidate(ctx context.Context, p auth.Principal, accountID int64) (Summary, error) {
	if err := p.Require(auth.Edit); err != nil {
		return Summary{}, err
	}

	var sum Summary
	err := s.db.WithTx(ctx, func(q *store.Queries) error {
		cats, err := categories.Load(ctx, q)
		if err != nil {
			return err
		}
		errs, err := q.UploadErrors(ctx, store.ErrorFilter{AccountID: accountID})
		if err != nil {
			return err
		}

		seen := make(map[int64]bool)
		for _, e := range errs {
			if seen[e.TransactionID] {
				continue
			}
			seen[e.TransactionID] = true
			sum.Checked++

			change, err := Reclassify(ctx, q, cats, e.Transaction)
			if err != nil {
				return fmt.Errorf("reclassifying transaction %d: %w", e.TransactionID, err)
			}
			switch change {
			case Cleared:
				sum.Cleared++
			case Updated:
				sum.Updated++
			}
			s.logChange(e.Transaction, change, p.User)
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// Errors lists journal entries matching the filter, oldest transaction first.
func (s *Service) Errors(ctx context.Context, p auth.Principal, f store.ErrorFilter) ([]model.UploadError, error) {
	if err := p.Require(auth.View); err != nil {
		return nil, err
	}
	return s.db.UploadErrors(ctx, f)
}

// Uploads lists an account's upload histories with their error counts.
func (s *Service) Uploads(ctx context.Context, p auth.Principal, accountID int64, onlyErrors bool) ([]model.UploadHistory, error) {
	if err := p.Require(auth.View); err != nil {
		return nil, err
	}
	return s.db.ListUploadHistories(ctx, accountID, onlyErrors)
}

// Upload returns one of an account's upload histories with its current
// errors in transaction date order.
func (s *Service) Upload(ctx context.Context, p auth.Principal, accountID, uploadID int64) (model.UploadHistory, []model.UploadError, error) {
	if err := p.Require(auth.View); err != nil {
		return model.UploadHistory{}, nil, err
	}
	h, err := s.db.GetUploadHistory(ctx, uploadID)
	if err != nil {
		return model.UploadHistory{}, nil, err
	}
	if h.AccountID != accountID {
		return model.UploadHistory{}, nil, fmt.Errorf("upload %d of account %d: %w", uploadID, accountID, store.ErrNotFound)
	}
	errs, err := s.db.UploadErrors(ctx, store.ErrorFilter{UploadHistoryID: uploadID})
	if err != nil {
		return model.UploadHistory{}, nil, err
	}
	return h, errs, nil
}

func (s *Service) logChange(t model.Transaction, change Change, user string) {
	if change == Unchanged {
		return
	}
	s.log.Info().
		Int64("account", t.AccountID).
		Int64("transaction", t.ID).
		Int("tx_number", t.TxNumber).
		Str("category", t.Category).
		Str("user", user).
		Msgf("category error %s", change)
}
