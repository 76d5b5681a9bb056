// Package fixtures generates deterministic upload-history, transaction and
// upload-error fixtures for exercising the error journal views.
package fixtures

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/model"
)

// Fixture is one record in the model/pk/fields fixture format.
type Fixture struct {
	Model  string          `json:"model"`
	PK     json.RawMessage `json:"pk,omitempty"`
	Fields json.RawMessage `json:"fields"`
}

type categoryFields struct {
	Name   string          `json:"category_name"`
	Kind   string          `json:"credit_debit"`
	Parent json.RawMessage `json:"parent"`
}

type userFields struct {
	Email string `json:"email"`
}

type accountFields struct {
	BankName      string `json:"bank_name"`
	SortCode      string `json:"sort_code"`
	AccountNumber string `json:"account_number"`
}

// HistoryFields is an upload history record.
type HistoryFields struct {
	Account    []string `json:"account"`
	StartDate  string   `json:"start_date"`
	EndDate    string   `json:"end_date"`
	UploadedBy []string `json:"uploaded_by"`
	UploadedAt string   `json:"uploaded_at"`
}

// TransactionFields is a bank-line record.
type TransactionFields struct {
	Account       []string `json:"account"`
	TxNumber      int      `json:"tx_number"`
	Date          string   `json:"transaction_date"`
	Description   string   `json:"description"`
	Parent        *int64   `json:"parent"`
	Name          string   `json:"name"`
	Category      []string `json:"category"`
	Debit         string   `json:"debit"`
	Credit        string   `json:"credit"`
	UploadHistory []any    `json:"upload_history"`
	Balance       string   `json:"balance"`
}

// ErrorFields is an upload error record.
type ErrorFields struct {
	Transaction   []any  `json:"transaction"`
	UploadHistory []any  `json:"upload_history"`
	Message       string `json:"error_message"`
}

// Record pairs a model name with typed fields.
type Record[F any] struct {
	Model  string `json:"model"`
	Fields F      `json:"fields"`
}

// Options control the size and shape of the generated data.
type Options struct {
	Histories    int
	MaxErrors    int // per history
	Transactions int // per history
	Start        time.Time
	Seed         uint64
}

// DefaultOptions match the fixture sizes the journal tests use.
func DefaultOptions() Options {
	return Options{Histories: 5, MaxErrors: 3, Transactions: 20, Start: model.Date(2023, 1, 1), Seed: 1}
}

// Validate rejects impossible option combinations.
func (o Options) Validate() error {
	switch {
	case o.Histories <= 0:
		return errors.New("history count must be positive")
	case o.Transactions <= 0:
		return errors.New("transaction count must be positive")
	case o.MaxErrors < 0:
		return errors.New("error count cannot be negative")
	case o.MaxErrors > o.Transactions:
		return fmt.Errorf("error count (%d) cannot be greater than transaction count (%d)", o.MaxErrors, o.Transactions)
	case o.Transactions < o.Histories:
		return fmt.Errorf("transaction count (%d) cannot be less than history count (%d)", o.Transactions, o.Histories)
	}
	return nil
}

// Inputs are the reference fixtures the generated records point at.
type Inputs struct {
	Categories []model.Category
	User       string
	Account    model.Account
}

// Output is the generated data set.
type Output struct {
	Histories    []Record[HistoryFields]
	Transactions []Record[TransactionFields]
	Errors       []Record[ErrorFields]
}

const (
	modelHistory     = "Accounts.uploadhistory"
	modelTransaction = "Accounts.transaction"
	modelError       = "Accounts.uploaderror"
	uploadSpacing    = 30 // days between emulated uploads
)

// Generate builds the fixtures. The same options and inputs always
// produce the same output.
func Generate(opts Options, in Inputs) (Output, error) {
	if err := opts.Validate(); err != nil {
		return Output{}, err
	}
	var credits, debits []model.Category
	for _, c := range in.Categories {
		if c.IsChild() {
			continue
		}
		if c.Kind == model.KindCredit {
			credits = append(credits, c)
		} else {
			debits = append(debits, c)
		}
	}
	if len(credits) == 0 || len(debits) == 0 {
		return Output{}, errors.New("need at least one top-level credit and one debit category")
	}

	g := &generator{
		opts:    opts,
		in:      in,
		rng:     rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		cats:    categories.NewService(in.Categories),
		credits: credits,
		debits:  debits,
		account: []string{in.Account.BankName, in.Account.SortCode, in.Account.AccountNumber},
	}
	g.histories()
	g.transactions()
	g.breakRows()
	return g.out, nil
}

type generator struct {
	opts    Options
	in      Inputs
	rng     *rand.Rand
	cats    *categories.Service
	credits []model.Category
	debits  []model.Category
	account []string
	out     Output
}

// historyKey is the natural key a fixture loader resolves an upload history by.
func historyKey(h HistoryFields) []any {
	return []any{h.Account, h.StartDate, h.EndDate}
}

func (g *generator) histories() {
	for i := range g.opts.Histories {
		start := g.opts.Start.AddDate(0, 0, i*uploadSpacing)
		g.out.Histories = append(g.out.Histories, Record[HistoryFields]{
			Model: modelHistory,
			Fields: HistoryFields{
				Account:    g.account,
				StartDate:  start.Format(model.DateFormat),
				EndDate:    start.AddDate(0, 0, uploadSpacing-1).Format(model.DateFormat),
				UploadedBy: []string{g.in.User},
				UploadedAt: start.AddDate(0, 0, uploadSpacing).Format("2006-01-02 15:04Z"),
			},
		})
	}
}

// transactions spreads each history's rows across its window. Debits are
// only drawn while the balance can cover them.
func (g *generator) transactions() {
	balance := decimal.Zero
	n := 0
	for _, h := range g.out.Histories {
		start, _ := time.Parse(model.DateFormat, h.Fields.StartDate)
		for i := range g.opts.Transactions {
			n++
			amount := decimal.NewFromInt(int64(8 + g.rng.IntN(493)))
			cat := g.credits[g.rng.IntN(len(g.credits))]
			if g.rng.IntN(2) == 0 && balance.GreaterThanOrEqual(amount) {
				cat = g.debits[g.rng.IntN(len(g.debits))]
			}
			debit, credit := decimal.Zero, amount
			if cat.Kind == model.KindDebit {
				debit, credit = amount, decimal.Zero
			}
			balance = balance.Add(credit).Sub(debit)

			d := start.AddDate(0, 0, i*uploadSpacing/g.opts.Transactions)
			g.out.Transactions = append(g.out.Transactions, Record[TransactionFields]{
				Model: modelTransaction,
				Fields: TransactionFields{
					Account:       g.account,
					TxNumber:      n,
					Date:          d.Format(model.DateFormat),
					Description:   fmt.Sprintf("Transaction %d", n),
					Name:          fmt.Sprintf("tx : %d", n),
					Category:      []string{cat.Name},
					Debit:         debit.StringFixed(2),
					Credit:        credit.StringFixed(2),
					UploadHistory: historyKey(h.Fields),
					Balance:       balance.StringFixed(2),
				},
			})
		}
	}
}

// breakRows breaks up to MaxErrors transactions per history, either clearing
// the category or swapping in one of the wrong kind, and journals the
// message the classifier gives for the result.
func (g *generator) breakRows() {
	for hi, h := range g.out.Histories {
		rows := g.out.Transactions[hi*g.opts.Transactions : (hi+1)*g.opts.Transactions]
		count := g.rng.IntN(g.opts.MaxErrors + 1)
		for _, idx := range g.rng.Perm(len(rows))[:count] {
			tx := &rows[idx].Fields
			if g.rng.IntN(2) == 0 {
				tx.Category = []string{""}
			} else if tx.Debit != "0.00" {
				tx.Category = []string{g.credits[g.rng.IntN(len(g.credits))].Name}
			} else {
				tx.Category = []string{g.debits[g.rng.IntN(len(g.debits))].Name}
			}
			res := g.cats.Classify(model.Transaction{
				Category: tx.Category[0],
				Debit:    decimal.RequireFromString(tx.Debit),
				Credit:   decimal.RequireFromString(tx.Credit),
			})
			g.out.Errors = append(g.out.Errors, Record[ErrorFields]{
				Model: modelError,
				Fields: ErrorFields{
					Transaction:   []any{tx.Account, tx.TxNumber},
					UploadHistory: historyKey(h.Fields),
					Message:       res.Message(),
				},
			})
		}
	}
}

// ReadInputs loads the category, user and account fixture files. The first
// user and account are used.
func ReadInputs(categoryFile, userFile, accountFile string) (Inputs, error) {
	var in Inputs

	cats, err := readFixtures(categoryFile)
	if err != nil {
		return in, err
	}
	for _, f := range cats {
		var cf categoryFields
		if err := json.Unmarshal(f.Fields, &cf); err != nil {
			return in, fmt.Errorf("%s: category: %w", categoryFile, err)
		}
		kind, ok := model.ParseKind(cf.Kind)
		if !ok {
			return in, fmt.Errorf("%s: category %q: bad kind %q", categoryFile, cf.Name, cf.Kind)
		}
		c := model.Category{Name: cf.Name, Kind: kind}
		if len(cf.Parent) > 0 && string(cf.Parent) != "null" {
			var parent []string
			if err := json.Unmarshal(cf.Parent, &parent); err == nil && len(parent) > 0 {
				c.Parent = parent[0]
			} else {
				c.Parent = string(cf.Parent)
			}
		}
		in.Categories = append(in.Categories, c)
	}

	users, err := readFixtures(userFile)
	if err != nil {
		return in, err
	}
	if len(users) == 0 {
		return in, fmt.Errorf("%s: no users", userFile)
	}
	var uf userFields
	if err := json.Unmarshal(users[0].Fields, &uf); err != nil {
		return in, fmt.Errorf("%s: user: %w", userFile, err)
	}
	in.User = uf.Email

	accounts, err := readFixtures(accountFile)
	if err != nil {
		return in, err
	}
	if len(accounts) == 0 {
		return in, fmt.Errorf("%s: no accounts", accountFile)
	}
	var af accountFields
	if err := json.Unmarshal(accounts[0].Fields, &af); err != nil {
		return in, fmt.Errorf("%s: account: %w", accountFile, err)
	}
	in.Account = model.Account{BankName: af.BankName, SortCode: af.SortCode, AccountNumber: af.AccountNumber}
	return in, nil
}

func readFixtures(path string) ([]Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures: %w", err)
	}
	var out []Fixture
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return out, nil
}

// WriteFile writes records as an indented JSON fixture file.
func WriteFile[F any](path string, records []Record[F]) error {
	if records == nil {
		records = []Record[F]{}
	}
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
