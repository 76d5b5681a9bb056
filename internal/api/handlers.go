package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/garagesale/treasury/internal/auditlog"
	"github.com/garagesale/treasury/internal/journal"
	"github.com/garagesale/treasury/internal/ledger"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/report"
	"github.com/garagesale/treasury/internal/store"
)

func (s *server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := s.Ledger.Accounts(r.Context(), principal(r.Context()))
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	out := make([]accountJSON, 0, len(accts))
	for _, a := range accts {
		out = append(out, toAccount(a))
	}
	writeJSON(w, http.StatusOK, out)
}

type openAccountRequest struct {
	BankName        string `json:"bank_name"`
	SortCode        string `json:"sort_code"`
	AccountNumber   string `json:"account_number"`
	StartingBalance string `json:"starting_balance"`
}

func (s *server) openAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	bal := decimal.Zero
	if req.StartingBalance != "" {
		var err error
		if bal, err = decimal.NewFromString(req.StartingBalance); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAM", "starting_balance: "+err.Error())
			return
		}
	}
	acct, err := s.Ledger.OpenAccount(r.Context(), principal(r.Context()), model.Account{
		BankName:        req.BankName,
		SortCode:        req.SortCode,
		AccountNumber:   req.AccountNumber,
		StartingBalance: bal,
	})
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccount(acct))
}

func (s *server) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	acct, err := s.Ledger.Account(r.Context(), principal(r.Context()), id)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(acct))
}

type accountPatch struct {
	StartingBalance string `json:"starting_balance"`
}

// patchAccount changes the starting balance of an account with no bank lines.
func (s *server) patchAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req accountPatch
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	bal, err := decimal.NewFromString(req.StartingBalance)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PARAM", "starting_balance: "+err.Error())
		return
	}
	acct, err := s.Ledger.SetStartingBalance(r.Context(), principal(r.Context()), id, bal)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	s.audit(r, auditlog.ActionSetBalance, id, "", "starting balance "+bal.StringFixed(2))
	writeJSON(w, http.StatusOK, toAccount(acct))
}

// yearPeriod resolves the optional ?year= label to its date range.
func (s *server) yearPeriod(w http.ResponseWriter, r *http.Request) (*model.Period, bool) {
	label := r.URL.Query().Get("year")
	if label == "" {
		return nil, true
	}
	fy, err := s.Years.Get(r.Context(), label)
	if err != nil {
		errorToHTTP(w, r, err)
		return nil, false
	}
	p := fy.Period()
	return &p, true
}

func (s *server) listTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	period, ok := s.yearPeriod(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if r.URL.Query().Get("combined") == "true" {
		entries, err := s.Ledger.Entries(ctx, principal(ctx), id, period)
		if err != nil {
			errorToHTTP(w, r, err)
			return
		}
		out := make([]entryJSON, 0, len(entries))
		for _, e := range entries {
			out = append(out, toEntry(e))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	lines, err := s.Ledger.Lines(ctx, principal(ctx), id, period)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	out := make([]lineJSON, 0, len(lines))
	for _, l := range lines {
		out = append(out, toLine(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) exportStatement(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	period, ok := s.yearPeriod(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := s.Ledger.Export(r.Context(), principal(r.Context()), id, period, &buf); err != nil {
		errorToHTTP(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"account-%d.csv\"", id))
	_, _ = w.Write(buf.Bytes())
}

func (s *server) verify(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	problems, err := s.Ledger.Verify(r.Context(), principal(r.Context()), id)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(problems))
	for _, p := range problems {
		out = append(out, map[string]any{
			"rule":        p.Rule,
			"tx_number":   p.TxNumber,
			"description": p.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": len(problems) == 0, "problems": out})
}

func (s *server) listUploads(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	onlyErrors := r.URL.Query().Get("errors") == "true"
	hs, err := s.Journal.Uploads(r.Context(), principal(r.Context()), id, onlyErrors)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	out := make([]uploadJSON, 0, len(hs))
	for _, h := range hs {
		out = append(out, toUpload(h))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) getUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	uid, ok := parseID(w, r, "upload")
	if !ok {
		return
	}
	h, errs, err := s.Journal.Upload(r.Context(), principal(r.Context()), id, uid)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadDetailJSON{Upload: toUpload(h), Errors: toUploadErrors(errs)})
}

// uploadStatement applies a statement CSV sent as the request body.
func (s *server) uploadStatement(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "upload.csv"
	}
	defer r.Body.Close()
	res, err := s.Uploads.ApplyReader(r.Context(), principal(r.Context()), id, r.Body, source)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	s.audit(r, auditlog.ActionUpload, id, strconv.FormatInt(res.Upload.ID, 10),
		fmt.Sprintf("%s: %d rows, %d errors", source, len(res.Transactions), len(res.Errors)))
	writeJSON(w, http.StatusCreated, toUploadResult(res))
}

func (s *server) listErrors(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	f := store.ErrorFilter{AccountID: id}
	if raw := r.URL.Query().Get("upload"); raw != "" {
		uid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAM", "upload: "+err.Error())
			return
		}
		f.UploadHistoryID = uid
	}
	errs, err := s.Journal.Errors(r.Context(), principal(r.Context()), f)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUploadErrors(errs))
}

func (s *server) recheck(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	sum, err := s.Journal.Revalidate(r.Context(), principal(r.Context()), id)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	s.audit(r, auditlog.ActionRecheck, id, "",
		fmt.Sprintf("checked %d, cleared %d, updated %d", sum.Checked, sum.Cleared, sum.Updated))
	writeJSON(w, http.StatusOK, map[string]int{
		"checked": sum.Checked,
		"cleared": sum.Cleared,
		"updated": sum.Updated,
	})
}

func (s *server) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	t, err := s.Ledger.Transaction(r.Context(), principal(r.Context()), id)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransaction(t))
}

type editRequest struct {
	Name     *string `json:"name"`
	Category *string `json:"category"`
}

func (s *server) editTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req editRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	t, change, err := s.Journal.EditTransaction(r.Context(), principal(r.Context()), id, journal.Edit{Name: req.Name, Category: req.Category})
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	s.audit(r, auditlog.ActionEdit, t.AccountID, strconv.FormatInt(t.ID, 10),
		fmt.Sprintf("name=%q category=%q", t.Name, t.Category))
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction": toTransaction(t),
		"journal":     change.String(),
	})
}

func (s *server) validCategories(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	cats, err := s.Ledger.ValidCategories(r.Context(), principal(r.Context()), id)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategories(cats))
}

type splitRequest struct {
	Amount   string `json:"amount"`
	Kind     string `json:"kind"`
	Category string `json:"category"`
}

func (req splitRequest) split() (ledger.Split, error) {
	amt, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return ledger.Split{}, &ledger.SplitError{Reason: ledger.ReasonInvalidAmount, Message: fmt.Sprintf("amount %q is not a number", req.Amount)}
	}
	kind, ok := model.ParseKind(req.Kind)
	if !ok {
		kind = model.Kind(req.Kind)
	}
	return ledger.Split{Amount: amt, Kind: kind, Category: req.Category}, nil
}

func (s *server) decodeSplit(w http.ResponseWriter, r *http.Request) (ledger.Split, bool) {
	var req splitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return ledger.Split{}, false
	}
	sp, err := req.split()
	if err != nil {
		errorToHTTP(w, r, err)
		return ledger.Split{}, false
	}
	return sp, true
}

func (s *server) addSplit(w http.ResponseWriter, r *http.Request) {
	parentID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	sp, ok := s.decodeSplit(w, r)
	if !ok {
		return
	}
	child, err := s.Ledger.AddSplit(r.Context(), principal(r.Context()), parentID, sp)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	s.audit(r, auditlog.ActionSplitAdd, child.AccountID, strconv.FormatInt(child.ID, 10),
		fmt.Sprintf("parent %d: %s %s %s", parentID, sp.Kind, money(sp.Amount), sp.Category))
	writeJSON(w, http.StatusCreated, toTransaction(child))
}

func (s *server) editSplit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	sp, ok := s.decodeSplit(w, r)
	if !ok {
		return
	}
	child, err := s.Ledger.EditSplit(r.Context(), principal(r.Context()), id, sp)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	s.audit(r, auditlog.ActionSplitEdit, child.AccountID, strconv.FormatInt(child.ID, 10),
		fmt.Sprintf("%s %s %s", sp.Kind, money(sp.Amount), sp.Category))
	writeJSON(w, http.StatusOK, toTransaction(child))
}

func (s *server) deleteSplit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	child, err := s.Ledger.DeleteSplit(r.Context(), principal(r.Context()), id)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	s.audit(r, auditlog.ActionSplitDel, child.AccountID, strconv.FormatInt(child.ID, 10),
		fmt.Sprintf("parent %d", child.ParentID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.Journal.Categories(r.Context(), principal(r.Context()))
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategories(cats))
}

func (s *server) addCategories(w http.ResponseWriter, r *http.Request) {
	var req []categoryJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	cats := make([]model.Category, 0, len(req))
	for _, c := range req {
		kind, ok := model.ParseKind(c.Kind)
		if !ok {
			writeError(w, http.StatusBadRequest, "INVALID_PARAM", fmt.Sprintf("category %q: unknown kind %q", c.Name, c.Kind))
			return
		}
		cats = append(cats, model.Category{Name: c.Name, Kind: kind, Parent: c.Parent})
	}
	added, err := s.Journal.AddCategories(r.Context(), principal(r.Context()), cats)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"added": added})
}

func (s *server) listYears(w http.ResponseWriter, r *http.Request) {
	years, err := s.Years.List(r.Context())
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	today := s.now()
	out := make([]yearJSON, 0, len(years))
	for _, fy := range years {
		out = append(out, toYear(fy, today))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) currentYear(w http.ResponseWriter, r *http.Request) {
	fy, ok, err := s.Years.Current(r.Context())
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no financial year covers today")
		return
	}
	writeJSON(w, http.StatusOK, toYear(fy, s.now()))
}

type yearRequest struct {
	Label string `json:"label"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func (s *server) decodeYear(w http.ResponseWriter, r *http.Request) (model.FinancialYear, bool) {
	var req yearRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return model.FinancialYear{}, false
	}
	start, err1 := parseDay(req.Start)
	end, err2 := parseDay(req.End)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PARAM", "start and end must be YYYY-MM-DD")
		return model.FinancialYear{}, false
	}
	return model.FinancialYear{Label: req.Label, Start: start, End: end}, true
}

func (s *server) createYear(w http.ResponseWriter, r *http.Request) {
	fy, ok := s.decodeYear(w, r)
	if !ok {
		return
	}
	created, err := s.Years.Create(r.Context(), principal(r.Context()), fy.Label, fy.Start, fy.End)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	s.audit(r, auditlog.ActionCreateYear, 0, created.Label, created.Period().String())
	writeJSON(w, http.StatusCreated, toYear(created, s.now()))
}

func (s *server) updateYear(w http.ResponseWriter, r *http.Request) {
	fy, ok := s.decodeYear(w, r)
	if !ok {
		return
	}
	label := chi.URLParam(r, "label")
	if fy.Label == "" {
		fy.Label = label
	}
	updated, err := s.Years.Update(r.Context(), principal(r.Context()), label, fy)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toYear(updated, s.now()))
}

func (s *server) closeYear(w http.ResponseWriter, r *http.Request) {
	label := chi.URLParam(r, "label")
	next, err := s.Years.Close(r.Context(), principal(r.Context()), label)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	s.audit(r, auditlog.ActionCloseYear, 0, label, "active year now "+next.Label)
	writeJSON(w, http.StatusOK, toYear(next, s.now()))
}

// runReport builds the report named by the path shape and query parameters.
func (s *server) runReport(w http.ResponseWriter, r *http.Request) (*report.Report, bool) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return nil, false
	}
	start, ok := parseDate(w, r, "start")
	if !ok {
		return nil, false
	}
	end, ok := parseDate(w, r, "end")
	if !ok {
		return nil, false
	}
	rep, err := s.Reports.Run(r.Context(), principal(r.Context()), report.Request{
		Shape:     model.ReportShape(chi.URLParam(r, "shape")),
		AccountID: id,
		Year:      r.URL.Query().Get("year"),
		Start:     start,
		End:       end,
	})
	if err != nil {
		errorToHTTP(w, r, err)
		return nil, false
	}
	return rep, true
}

func (s *server) getReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.runReport(w, r)
	if !ok {
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" || format == report.FormatJSON {
		writeJSON(w, http.StatusOK, report.JSON(rep))
		return
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, rep, format); err != nil {
		errorToHTTP(w, r, err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType(format))
	_, _ = w.Write(buf.Bytes())
}

func (s *server) archiveReport(w http.ResponseWriter, r *http.Request) {
	if s.Archive == nil {
		writeError(w, http.StatusNotImplemented, "ARCHIVE_DISABLED", "no archive is configured")
		return
	}
	rep, ok := s.runReport(w, r)
	if !ok {
		return
	}
	pr, err := s.Archive.Publish(r.Context(), principal(r.Context()), rep, s.ArchiveFormat)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	s.audit(r, auditlog.ActionArchive, rep.Account.ID, pr.FileID, pr.Path+"/"+pr.FileName)
	writeJSON(w, http.StatusCreated, toPublished(pr))
}

func (s *server) listArchived(w http.ResponseWriter, r *http.Request) {
	if s.Archive == nil {
		writeJSON(w, http.StatusOK, []publishedJSON{})
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	prs, err := s.Archive.List(r.Context(), principal(r.Context()), id)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	out := make([]publishedJSON, 0, len(prs))
	for _, pr := range prs {
		out = append(out, toPublished(pr))
	}
	writeJSON(w, http.StatusOK, out)
}
