package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Account is a bank account whose statements are uploaded.
type Account struct {
	ID                    int64
	BankName              string
	SortCode              string
	AccountNumber         string
	StartingBalance       decimal.Decimal
	LastTransactionNumber int // count of bank lines, maintained by uploads
}

// Matches reports whether a statement row's identifiers belong to this account.
func (a Account) Matches(sortCode, accountNumber string) bool {
	return normaliseSortCode(sortCode) == normaliseSortCode(a.SortCode) && accountNumber == a.AccountNumber
}

func (a Account) String() string {
	return fmt.Sprintf("%s (%s %s)", a.BankName, a.SortCode, a.AccountNumber)
}

// normaliseSortCode strips the separators banks put in sort codes ("'20-00-00").
func normaliseSortCode(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
