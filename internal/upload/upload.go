// Package upload applies one parsed bank statement to an account's ledger as
// a single atomic batch.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/garagesale/treasury/internal/auth"
	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/importer"
	"github.com/garagesale/treasury/internal/journal"
	"github.com/garagesale/treasury/internal/ledger"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/store"
)

// ScopeReason says why a statement was rejected as a whole.
type ScopeReason string

const (
	ScopeNoRows          ScopeReason = "no_rows"
	ScopeAccountMismatch ScopeReason = "account_mismatch"
	ScopeOverlap         ScopeReason = "overlap"
)

// ScopeError rejects a statement that does not belong in the account.
type ScopeError struct {
	Reason  ScopeReason
	Account model.Account
	Start   time.Time
	End     time.Time
	Line    int // offending row for ScopeAccountMismatch
}

func (e *ScopeError) Error() string {
	switch e.Reason {
	case ScopeNoRows:
		return fmt.Sprintf("statement for %s has no rows", e.Account)
	case ScopeAccountMismatch:
		return fmt.Sprintf("line %d: sort code and account number do not match %s", e.Line, e.Account)
	}
	return fmt.Sprintf("%s already has transactions for %s - %s", e.Account,
		e.Start.Format(importer.StatementDateFormat), e.End.Format(importer.StatementDateFormat))
}

// Mismatch records a row whose reported balance disagrees with the ledger.
type Mismatch struct {
	TransactionID int64
	TxNumber      int
	Reported      decimal.Decimal
	Computed      decimal.Decimal
}

// Result is what a successful upload created.
type Result struct {
	Upload       model.UploadHistory
	Transactions []model.Transaction
	Errors       []model.UploadError
	Mismatches   []Mismatch
}

// Session applies statements to accounts.
type Session struct {
	db  *store.Store
	log zerolog.Logger
	now func() time.Time
}

// NewSession creates an upload Session.
func NewSession(db *store.Store, log zerolog.Logger) *Session {
	return &Session{db: db, log: log, now: time.Now}
}

// ApplyFile parses and applies a statement file.
func (s *Session) ApplyFile(ctx context.Context, p auth.Principal, accountID int64, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("opening statement: %w", err)
	}
	defer f.Close()
	return s.ApplyReader(ctx, p, accountID, f, filepath.Base(path))
}

// ApplyReader parses and applies a statement stream.
func (s *Session) ApplyReader(ctx context.Context, p auth.Principal, accountID int64, r io.Reader, source string) (Result, error) {
	if err := p.Require(auth.Upload); err != nil {
		return Result{}, err
	}
	st, err := (&importer.StatementParser{}).ParseNamed(r, source)
	if err != nil {
		return Result{}, err
	}
	return s.Apply(ctx, p, accountID, st)
}

// Apply writes every row of the statement, its upload history and its
// category errors in one database transaction, or nothing at all.
func (s *Session) Apply(ctx context.Context, p auth.Principal, accountID int64, st *importer.Statement) (Result, error) {
	if err := p.Require(auth.Upload); err != nil {
		return Result{}, err
	}

	var res Result
	err := s.db.WithTx(ctx, func(q *store.Queries) error {
		acct, err := q.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		start, end, err := checkScope(ctx, q, acct, st)
		if err != nil {
			return err
		}
		cats, err := categories.Load(ctx, q)
		if err != nil {
			return err
		}

		res.Upload = model.UploadHistory{
			AccountID:  acct.ID,
			StartDate:  start,
			EndDate:    end,
			UploadedBy: p.User,
			UploadedAt: s.now().UTC(),
		}
		if err := q.CreateUploadHistory(ctx, &res.Upload); err != nil {
			return err
		}

		l := ledger.New(q, cats)
		for _, row := range st.Rows {
			tx, err := l.AppendBankLine(ctx, acct, model.Transaction{
				UploadHistoryID:  res.Upload.ID,
				Date:             row.Date,
				Description:      row.Description,
				Category:         row.Category,
				Debit:            row.Debit,
				Credit:           row.Credit,
				StatementBalance: decimal.NewNullDecimal(row.Balance),
			})
			if err != nil {
				return fmt.Errorf("line %d: %w", row.Line, err)
			}
			if _, err := journal.Reclassify(ctx, q, cats, tx); err != nil {
				return fmt.Errorf("line %d: %w", row.Line, err)
			}
			res.Transactions = append(res.Transactions, tx)
		}

		if _, err := l.SyncLastTransactionNumber(ctx, acct); err != nil {
			return err
		}
		if res.Mismatches, err = mismatches(ctx, l, acct, res.Upload); err != nil {
			return err
		}
		if res.Errors, err = q.UploadErrors(ctx, store.ErrorFilter{UploadHistoryID: res.Upload.ID}); err != nil {
			return err
		}
		res.Upload.ErrorCount = len(res.Errors)

		// Tx numbers may have moved while later rows were inserted.
		for i := range res.Transactions {
			if res.Transactions[i], err = q.GetTransaction(ctx, res.Transactions[i].ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var scope *ScopeError
		if errors.As(err, &scope) {
			s.log.Warn().Int64("account", accountID).Str("source", st.Source).Str("reason", string(scope.Reason)).Msg(scope.Error())
		}
		return Result{}, err
	}

	for _, m := range res.Mismatches {
		s.log.Warn().
			Int64("account", accountID).
			Int("tx_number", m.TxNumber).
			Str("reported", m.Reported.StringFixed(2)).
			Str("computed", m.Computed.StringFixed(2)).
			Msg("statement balance mismatch")
	}
	s.log.Info().
		Int64("account", accountID).
		Int64("upload", res.Upload.ID).
		Str("source", st.Source).
		Int("rows", len(res.Transactions)).
		Int("errors", len(res.Errors)).
		Str("user", p.User).
		Msg("upload accepted")
	return res, nil
}

func checkScope(ctx context.Context, q *store.Queries, acct model.Account, st *importer.Statement) (start, end time.Time, err error) {
	start, end, ok := st.Range()
	if !ok {
		return start, end, &ScopeError{Reason: ScopeNoRows, Account: acct}
	}
	for _, row := range st.Rows {
		if !acct.Matches(row.SortCode, row.AccountNumber) {
			return start, end, &ScopeError{Reason: ScopeAccountMismatch, Account: acct, Start: start, End: end, Line: row.Line}
		}
	}
	n, err := q.CountBankLinesInRange(ctx, acct.ID, start, end)
	if err != nil {
		return start, end, err
	}
	if n > 0 {
		return start, end, &ScopeError{Reason: ScopeOverlap, Account: acct, Start: start, End: end}
	}
	return start, end, nil
}

func mismatches(ctx context.Context, l *ledger.Ledger, acct model.Account, h model.UploadHistory) ([]Mismatch, error) {
	lines, err := l.Lines(ctx, acct, &model.Period{Start: h.StartDate, End: h.EndDate})
	if err != nil {
		return nil, err
	}
	var out []Mismatch
	for _, line := range lines {
		if line.UploadHistoryID != h.ID || !line.StatementBalance.Valid {
			continue
		}
		if !line.StatementBalance.Decimal.Equal(line.Balance) {
			out = append(out, Mismatch{
				TransactionID: line.ID,
				TxNumber:      line.TxNumber,
				Reported:      line.StatementBalance.Decimal,
				Computed:      line.Balance,
			})
		}
	}
	return out, nil
}
