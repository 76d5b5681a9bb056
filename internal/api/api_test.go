package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagesale/treasury/internal/archive"
	"github.com/garagesale/treasury/internal/auditlog"
	"github.com/garagesale/treasury/internal/auth"
	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/fiscal"
	"github.com/garagesale/treasury/internal/journal"
	"github.com/garagesale/treasury/internal/ledger"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/report"
	"github.com/garagesale/treasury/internal/store"
	"github.com/garagesale/treasury/internal/upload"
)

const statement = "Transaction Date,Transaction Type,Sort Code,Account Number,Transaction Description,Debit Amount,Credit Amount,Balance,Category\n" +
	"01/03/2025,FPI,'30-00-00,12345678,Sarah's SweetShop,,50.00,50.00,Sale\n" +
	"02/03/2025,DEB,'30-00-00,12345678,Village Hall,20.00,,30.00,Hall Hire\n" +
	"03/03/2025,FPI,'30-00-00,12345678,Mystery,,5.00,35.00,Nonesuch\n"

type fixture struct {
	srv     *httptest.Server
	account model.Account
	audit   *auditlog.Log
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	db, err := store.Open(ctx, filepath.Join(dir, "treasury.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, c := range categories.Defaults() {
		require.NoError(t, db.CreateCategory(ctx, &c))
	}
	a := model.Account{BankName: "Lloyds", SortCode: "30-00-00", AccountNumber: "12345678"}
	require.NoError(t, db.CreateAccount(ctx, &a))

	log := zerolog.Nop()
	years := fiscal.NewCatalogue(db, fiscal.DefaultTemplate, log)
	_, err = years.Create(ctx, auth.System("setup"), "2025", model.Date(2024, 10, 1), model.Date(2025, 9, 30))
	require.NoError(t, err)

	arc, err := archive.New(db, archive.LocalStore{Dir: filepath.Join(dir, "reports")}, archive.DefaultNames(), log)
	require.NoError(t, err)
	audit := auditlog.New(dir)

	s := newServer(Deps{
		Ledger:        ledger.NewService(db, log),
		Journal:       journal.NewService(db, log),
		Uploads:       upload.NewSession(db, log),
		Years:         years,
		Reports:       report.NewEngine(db, report.DefaultOptions(), log),
		Archive:       arc,
		Audit:         audit,
		ArchiveFormat: report.FormatJSON,
		Auth:          HeaderAuthenticator{},
		Log:           log,
	}, func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) })
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return fixture{srv: srv, account: a, audit: audit}
}

func (f fixture) do(t *testing.T, method, path, body string, perms ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Actor", "alice")
	if len(perms) == 0 {
		perms = []string{"all"}
	}
	req.Header.Set("X-Permissions", strings.Join(perms, ","))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f fixture) upload(t *testing.T) uploadResultJSON {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/accounts/1/uploads?source=march.csv", statement)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[uploadResultJSON](t, resp)
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	f := setup(t)
	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestAuthentication(t *testing.T) {
	f := setup(t)

	resp, err := http.Get(f.srv.URL + "/api/accounts")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/accounts", "", "superuser")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/accounts", "", "view")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accts := decode[[]accountJSON](t, resp)
	require.Len(t, accts, 1)
	assert.Equal(t, "0.00", accts[0].StartingBalance)

	resp = f.do(t, http.MethodPost, "/api/accounts/1/uploads", statement, "view")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", decode[map[string]string](t, resp)["code"])
}

func TestOpenAccount(t *testing.T) {
	f := setup(t)
	resp := f.do(t, http.MethodPost, "/api/accounts", `{"bank_name":"Barclays","sort_code":"20-00-00","account_number":"87654321","starting_balance":"12.50"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	acct := decode[accountJSON](t, resp)
	assert.Equal(t, "12.50", acct.StartingBalance)

	resp = f.do(t, http.MethodPost, "/api/accounts", `{"bank_name":"Barclays"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_ACCOUNT", decode[map[string]string](t, resp)["code"])

	resp = f.do(t, http.MethodGet, "/api/accounts/99", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/accounts/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSetStartingBalance(t *testing.T) {
	f := setup(t)
	resp := f.do(t, http.MethodPatch, "/api/accounts/1", `{"starting_balance":"40.00"}`, "view")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodPatch, "/api/accounts/1", `{"starting_balance":"lots"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPatch, "/api/accounts/1", `{"starting_balance":"40.00"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "40.00", decode[accountJSON](t, resp).StartingBalance)

	f.upload(t)
	resp = f.do(t, http.MethodPatch, "/api/accounts/1", `{"starting_balance":"0.00"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "BALANCE_FIXED", decode[map[string]string](t, resp)["code"])

	entries, err := f.audit.ForAccount(1)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, auditlog.ActionSetBalance, entries[0].Action)
}

func TestUploadAndList(t *testing.T) {
	f := setup(t)
	res := f.upload(t)
	assert.Equal(t, 3, res.Transactions)
	assert.Len(t, res.Errors, 1)
	assert.Empty(t, res.Mismatches)

	resp := f.do(t, http.MethodGet, "/api/accounts/1/transactions?year=2025", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lines := decode[[]lineJSON](t, resp)
	require.Len(t, lines, 3)
	assert.Equal(t, "50.00", lines[0].Balance)
	assert.Equal(t, "30.00", lines[1].Balance)
	assert.True(t, lines[0].Splittable)
	assert.Equal(t, "Sarah's SweetShop", lines[0].Description)

	resp = f.do(t, http.MethodGet, "/api/accounts/1/transactions?year=1999", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/accounts/1/uploads?errors=true", "")
	ups := decode[[]uploadJSON](t, resp)
	require.Len(t, ups, 1)
	assert.Equal(t, 1, ups[0].ErrorCount)

	resp = f.do(t, http.MethodGet, "/api/accounts/1/errors", "")
	errs := decode[[]uploadErrorJSON](t, resp)
	require.Len(t, errs, 1)
	assert.Equal(t, "Mystery", errs[0].Transaction.Description)

	resp = f.do(t, http.MethodGet, "/api/accounts/1/uploads/"+strconv.FormatInt(res.Upload.ID, 10), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decode[uploadDetailJSON](t, resp)
	assert.Equal(t, 1, detail.Upload.ErrorCount)
	require.Len(t, detail.Errors, 1)
	assert.Equal(t, "Mystery", detail.Errors[0].Transaction.Description)

	resp = f.do(t, http.MethodGet, "/api/accounts/1/uploads/999", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/accounts/1/uploads", statement)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(upload.ScopeOverlap), decode[map[string]string](t, resp)["code"])

	entries, err := f.audit.ForAccount(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, auditlog.ActionUpload, entries[0].Action)
	assert.Equal(t, "alice", entries[0].User)
}

func TestUploadFormatError(t *testing.T) {
	f := setup(t)
	resp := f.do(t, http.MethodPost, "/api/accounts/1/uploads", "Date,Amount\n01/03/2025,1.00\n")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "FORMAT_ERROR", decode[map[string]string](t, resp)["code"])
}

func TestEditAndRecheck(t *testing.T) {
	f := setup(t)
	res := f.upload(t)
	id := res.Errors[0].Transaction.ID

	resp := f.do(t, http.MethodPatch, "/api/transactions/"+itoa(id), `{"category":"Donation"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]json.RawMessage](t, resp)
	assert.JSONEq(t, `"cleared"`, string(body["journal"]))

	resp = f.do(t, http.MethodGet, "/api/accounts/1/errors", "")
	assert.Empty(t, decode[[]uploadErrorJSON](t, resp))

	resp = f.do(t, http.MethodPost, "/api/accounts/1/recheck", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[map[string]int](t, resp)["checked"])
}

func TestSplits(t *testing.T) {
	f := setup(t)
	f.upload(t)

	resp := f.do(t, http.MethodGet, "/api/transactions/1/categories", "")
	valid := decode[[]categoryJSON](t, resp)
	assert.NotEmpty(t, valid)
	for _, c := range valid {
		assert.Empty(t, c.Parent)
		assert.Equal(t, "credit", c.Kind)
	}

	resp = f.do(t, http.MethodPost, "/api/transactions/1/splits", `{"amount":"20.00","kind":"credit","category":"Sale: Cakes"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	child := decode[transactionJSON](t, resp)
	assert.Equal(t, int64(1), child.ParentID)

	resp = f.do(t, http.MethodGet, "/api/transactions/"+itoa(child.ID)+"/categories", "")
	for _, c := range decode[[]categoryJSON](t, resp) {
		assert.Equal(t, "Sale", c.Parent)
	}

	resp = f.do(t, http.MethodPost, "/api/transactions/1/splits", `{"amount":"40.00","kind":"credit","category":"Sale: Refreshments"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, string(ledger.ReasonOverAllocated), decode[map[string]string](t, resp)["code"])

	resp = f.do(t, http.MethodPost, "/api/transactions/1/splits", `{"amount":"5.00","kind":"credit","category":"Advertisement: Printing"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/api/splits/"+itoa(child.ID), `{"amount":"30.00","kind":"credit","category":"Sale: Bric-a-brac"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "30.00", decode[transactionJSON](t, resp).Credit)

	resp = f.do(t, http.MethodGet, "/api/accounts/1/transactions?combined=true", "")
	entries := decode[[]entryJSON](t, resp)
	require.Len(t, entries, 4)
	require.NotNil(t, entries[1].Split)
	assert.Equal(t, "20.00", entries[0].Line.RemainingCredit)

	resp = f.do(t, http.MethodPatch, "/api/transactions/1", `{"category":"Sponsorship"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, string(ledger.ReasonCategoryMismatch), decode[map[string]string](t, resp)["code"])

	resp = f.do(t, http.MethodGet, "/api/accounts/1/verify", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode[map[string]any](t, resp)["ok"])

	resp = f.do(t, http.MethodDelete, "/api/splits/"+itoa(child.ID), "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/splits/1", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, string(ledger.ReasonNotSplit), decode[map[string]string](t, resp)["code"])
}

func TestCategories(t *testing.T) {
	f := setup(t)
	resp := f.do(t, http.MethodPost, "/api/categories", `[{"name":"Raffle","kind":"credit"},{"name":"Raffle: Tickets","kind":"C","parent":"Raffle"}]`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 2, decode[map[string]int](t, resp)["added"])

	resp = f.do(t, http.MethodPost, "/api/categories", `[{"name":"Raffle: Prizes","kind":"debit","parent":"Raffle"}]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_CATEGORY", decode[map[string]string](t, resp)["code"])

	resp = f.do(t, http.MethodGet, "/api/categories", "")
	assert.Len(t, decode[[]categoryJSON](t, resp), len(categories.Defaults())+2)
}

func TestYears(t *testing.T) {
	f := setup(t)
	resp := f.do(t, http.MethodPost, "/api/years", `{"label":"overlap","start":"2025-09-01","end":"2026-08-31"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "OVERLAP", decode[map[string]string](t, resp)["code"])

	resp = f.do(t, http.MethodPost, "/api/years", `{"label":"2024","start":"2023-10-01","end":"2024-09-30"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.False(t, decode[yearJSON](t, resp).Editable)

	resp = f.do(t, http.MethodPost, "/api/years/2025/close", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	next := decode[yearJSON](t, resp)
	assert.Equal(t, "2026", next.Label)
	assert.Equal(t, "2025-10-01", next.Start)
	assert.True(t, next.Active)

	resp = f.do(t, http.MethodGet, "/api/years", "")
	assert.Len(t, decode[[]yearJSON](t, resp), 3)

	resp = f.do(t, http.MethodGet, "/api/years/current", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2026", decode[yearJSON](t, resp).Label)

	resp = f.do(t, http.MethodPut, "/api/years/2024", `{"start":"2023-10-01","end":"2024-09-29"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "HISTORICAL", decode[map[string]string](t, resp)["code"])
}

func TestReportAndArchive(t *testing.T) {
	f := setup(t)
	f.upload(t)

	path := "/api/accounts/1/reports/custom?start=2025-03-01&end=2025-03-31"
	resp := f.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]json.RawMessage](t, resp)
	assert.JSONEq(t, `"55.00"`, string(body["income_total"]))
	assert.JSONEq(t, `"20.00"`, string(body["expenditure_total"]))

	resp = f.do(t, http.MethodGet, path+"&format=text", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "Report from 2025-03-01 to 2025-03-31")

	resp = f.do(t, http.MethodGet, "/api/accounts/1/reports/custom?start=2025-03-31&end=2025-03-01", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/accounts/1/reports/quarterly", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/accounts/1/reports/custom/archive?start=2025-03-01&end=2025-03-31", "", "view")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/accounts/1/reports/custom/archive?start=2025-03-01&end=2025-03-31", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	pr := decode[publishedJSON](t, resp)
	assert.Equal(t, "2025-03-01-2025-03-31.json", pr.FileName)

	resp = f.do(t, http.MethodPost, "/api/accounts/1/reports/custom/archive?start=2025-03-01&end=2025-03-31", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_ARCHIVED", decode[map[string]string](t, resp)["code"])

	resp = f.do(t, http.MethodGet, "/api/accounts/1/archive", "")
	assert.Len(t, decode[[]publishedJSON](t, resp), 1)
}

func TestExportAndVerify(t *testing.T) {
	f := setup(t)
	f.upload(t)

	resp := f.do(t, http.MethodGet, "/api/accounts/1/export", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
	csv, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(csv), "Village Hall")

	resp = f.do(t, http.MethodGet, "/api/accounts/1/verify", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "true", string(decode[map[string]json.RawMessage](t, resp)["ok"]))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
