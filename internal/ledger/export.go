package ledger

import (
	"fmt"
	"io"
	"iter"

	"github.com/garagesale/treasury/internal/importer"
	"github.com/garagesale/treasury/internal/model"
)

// StatementRow converts a bank line back to the statement row it came from,
// with the computed balance.
func StatementRow(acct model.Account, line model.BankLine) importer.Row {
	return importer.Row{
		Date:          line.Date,
		SortCode:      acct.SortCode,
		AccountNumber: acct.AccountNumber,
		Description:   line.Description,
		Debit:         line.Debit,
		Credit:        line.Credit,
		Balance:       line.Balance,
		Category:      line.Category,
	}
}

// WriteStatement writes a sequence of bank lines as a statement CSV that the
// importer can read back.
func WriteStatement(w io.Writer, acct model.Account, lines iter.Seq2[model.BankLine, error]) error {
	var rows []importer.Row
	for line, err := range lines {
		if err != nil {
			return fmt.Errorf("reading ledger: %w", err)
		}
		rows = append(rows, StatementRow(acct, line))
	}
	return importer.WriteStatement(w, rows)
}
