package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/garagesale/treasury/internal/fiscal"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/upload"
)

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func date(t time.Time) string { return t.Format(model.DateFormat) }

type accountJSON struct {
	ID                    int64  `json:"id"`
	BankName              string `json:"bank_name"`
	SortCode              string `json:"sort_code"`
	AccountNumber         string `json:"account_number"`
	StartingBalance       string `json:"starting_balance"`
	LastTransactionNumber int    `json:"last_transaction_number"`
}

func toAccount(a model.Account) accountJSON {
	return accountJSON{
		ID:                    a.ID,
		BankName:              a.BankName,
		SortCode:              a.SortCode,
		AccountNumber:         a.AccountNumber,
		StartingBalance:       money(a.StartingBalance),
		LastTransactionNumber: a.LastTransactionNumber,
	}
}

type transactionJSON struct {
	ID               int64   `json:"id"`
	AccountID        int64   `json:"account_id"`
	Date             string  `json:"date"`
	Description      string  `json:"description"`
	Name             string  `json:"name"`
	Category         string  `json:"category"`
	Debit            string  `json:"debit"`
	Credit           string  `json:"credit"`
	TxNumber         int     `json:"tx_number,omitempty"`
	UploadHistoryID  int64   `json:"upload_history_id,omitempty"`
	StatementBalance *string `json:"statement_balance,omitempty"`
	ParentID         int64   `json:"parent_id,omitempty"`
}

func toTransaction(t model.Transaction) transactionJSON {
	out := transactionJSON{
		ID:              t.ID,
		AccountID:       t.AccountID,
		Date:            date(t.Date),
		Description:     t.Description,
		Name:            t.Name,
		Category:        t.Category,
		Debit:           money(t.Debit),
		Credit:          money(t.Credit),
		TxNumber:        t.TxNumber,
		UploadHistoryID: t.UploadHistoryID,
		ParentID:        t.ParentID,
	}
	if t.StatementBalance.Valid {
		s := money(t.StatementBalance.Decimal)
		out.StatementBalance = &s
	}
	return out
}

type lineJSON struct {
	transactionJSON
	BalanceBefore   string `json:"balance_before"`
	Balance         string `json:"balance"`
	RemainingCredit string `json:"remaining_credit"`
	RemainingDebit  string `json:"remaining_debit"`
	Splittable      bool   `json:"splittable"`
	HasSplits       bool   `json:"has_splits"`
}

func toLine(l model.BankLine) lineJSON {
	return lineJSON{
		transactionJSON: toTransaction(l.Transaction),
		BalanceBefore:   money(l.BalanceBefore),
		Balance:         money(l.Balance),
		RemainingCredit: money(l.RemainingCredit),
		RemainingDebit:  money(l.RemainingDebit),
		Splittable:      l.Splittable,
		HasSplits:       l.HasSplits,
	}
}

type entryJSON struct {
	Line  *lineJSON        `json:"line,omitempty"`
	Split *transactionJSON `json:"split,omitempty"`
}

func toEntry(e model.Entry) entryJSON {
	var out entryJSON
	if e.Line != nil {
		l := toLine(*e.Line)
		out.Line = &l
	}
	if e.Split != nil {
		s := toTransaction(*e.Split)
		out.Split = &s
	}
	return out
}

type categoryJSON struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Parent string `json:"parent,omitempty"`
}

func toCategories(cats []model.Category) []categoryJSON {
	out := make([]categoryJSON, 0, len(cats))
	for _, c := range cats {
		out = append(out, categoryJSON{Name: c.Name, Kind: string(c.Kind), Parent: c.Parent})
	}
	return out
}

type yearJSON struct {
	Label    string `json:"label"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Active   bool   `json:"active"`
	Editable bool   `json:"editable"`
}

func toYear(fy model.FinancialYear, today time.Time) yearJSON {
	return yearJSON{
		Label:    fy.Label,
		Start:    date(fy.Start),
		End:      date(fy.End),
		Active:   fy.Active,
		Editable: fiscal.Editable(fy, today),
	}
}

type uploadJSON struct {
	ID         int64  `json:"id"`
	AccountID  int64  `json:"account_id"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	UploadedBy string `json:"uploaded_by"`
	UploadedAt string `json:"uploaded_at"`
	ErrorCount int    `json:"error_count"`
}

func toUpload(h model.UploadHistory) uploadJSON {
	return uploadJSON{
		ID:         h.ID,
		AccountID:  h.AccountID,
		StartDate:  date(h.StartDate),
		EndDate:    date(h.EndDate),
		UploadedBy: h.UploadedBy,
		UploadedAt: h.UploadedAt.Format(time.RFC3339),
		ErrorCount: h.ErrorCount,
	}
}

type uploadDetailJSON struct {
	Upload uploadJSON        `json:"upload"`
	Errors []uploadErrorJSON `json:"errors"`
}

type uploadErrorJSON struct {
	ID              int64           `json:"id"`
	UploadHistoryID int64           `json:"upload_history_id"`
	Message         string          `json:"message"`
	Transaction     transactionJSON `json:"transaction"`
}

func toUploadErrors(errs []model.UploadError) []uploadErrorJSON {
	out := make([]uploadErrorJSON, 0, len(errs))
	for _, e := range errs {
		out = append(out, uploadErrorJSON{
			ID:              e.ID,
			UploadHistoryID: e.UploadHistoryID,
			Message:         e.Message,
			Transaction:     toTransaction(e.Transaction),
		})
	}
	return out
}

type mismatchJSON struct {
	TransactionID int64  `json:"transaction_id"`
	TxNumber      int    `json:"tx_number"`
	Reported      string `json:"reported"`
	Computed      string `json:"computed"`
}

type uploadResultJSON struct {
	Upload       uploadJSON        `json:"upload"`
	Transactions int               `json:"transactions"`
	Errors       []uploadErrorJSON `json:"errors"`
	Mismatches   []mismatchJSON    `json:"balance_mismatches"`
}

func toUploadResult(res upload.Result) uploadResultJSON {
	out := uploadResultJSON{
		Upload:       toUpload(res.Upload),
		Transactions: len(res.Transactions),
		Errors:       make([]uploadErrorJSON, 0, len(res.Errors)),
		Mismatches:   make([]mismatchJSON, 0, len(res.Mismatches)),
	}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, uploadErrorJSON{ID: e.ID, UploadHistoryID: e.UploadHistoryID, Message: e.Message, Transaction: transactionJSON{ID: e.TransactionID}})
	}
	for _, m := range res.Mismatches {
		out.Mismatches = append(out.Mismatches, mismatchJSON{
			TransactionID: m.TransactionID,
			TxNumber:      m.TxNumber,
			Reported:      money(m.Reported),
			Computed:      money(m.Computed),
		})
	}
	return out
}

type publishedJSON struct {
	Shape       string `json:"shape"`
	AccountID   int64  `json:"account_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	FileID      string `json:"file_id"`
	Path        string `json:"path"`
	FileName    string `json:"file_name"`
	UploadedBy  string `json:"uploaded_by"`
	UploadedAt  string `json:"uploaded_at"`
}

func toPublished(pr model.PublishedReport) publishedJSON {
	return publishedJSON{
		Shape:       string(pr.Shape),
		AccountID:   pr.AccountID,
		PeriodStart: date(pr.PeriodStart),
		PeriodEnd:   date(pr.PeriodEnd),
		FileID:      pr.FileID,
		Path:        pr.Path,
		FileName:    pr.FileName,
		UploadedBy:  pr.UploadedBy,
		UploadedAt:  pr.UploadedAt.Format(time.RFC3339),
	}
}
