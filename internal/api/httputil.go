package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/garagesale/treasury/internal/archive"
	"github.com/garagesale/treasury/internal/auth"
	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/fiscal"
	"github.com/garagesale/treasury/internal/importer"
	"github.com/garagesale/treasury/internal/journal"
	"github.com/garagesale/treasury/internal/ledger"
	"github.com/garagesale/treasury/internal/logger"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/report"
	"github.com/garagesale/treasury/internal/store"
	"github.com/garagesale/treasury/internal/upload"
)

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseID extracts an integer path parameter.
func parseID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "invalid id: "+raw)
		return 0, false
	}
	return id, true
}

// parseDate reads an optional YYYY-MM-DD query parameter.
func parseDate(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, true
	}
	d, err := parseDay(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PARAM", name+": want YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}

func parseDay(s string) (time.Time, error) {
	return time.Parse(model.DateFormat, s)
}

// errorToHTTP maps domain errors to HTTP responses.
func errorToHTTP(w http.ResponseWriter, r *http.Request, err error) {
	var (
		missing   *importer.MissingColumnsError
		rowErr    *importer.RowError
		scope     *upload.ScopeError
		split     *ledger.SplitError
		splitCat  *categories.SplitCategoryError
		duplicate *ledger.DuplicateBankLineError
		param     *report.ParamError
		archived  *archive.AlreadyArchivedError
	)
	switch {
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.As(err, &missing), errors.As(err, &rowErr):
		writeError(w, http.StatusBadRequest, "FORMAT_ERROR", err.Error())
	case errors.As(err, &scope):
		writeError(w, http.StatusConflict, string(scope.Reason), err.Error())
	case errors.As(err, &split):
		writeError(w, http.StatusUnprocessableEntity, string(split.Reason), err.Error())
	case errors.As(err, &splitCat):
		writeError(w, http.StatusUnprocessableEntity, string(ledger.ReasonCategoryMismatch), err.Error())
	case errors.As(err, &duplicate):
		writeError(w, http.StatusConflict, "DUPLICATE", err.Error())
	case errors.Is(err, fiscal.ErrOverlap):
		writeError(w, http.StatusConflict, "OVERLAP", "Dates overlap 1 or more existing Financial Years")
	case errors.Is(err, fiscal.ErrHistorical):
		writeError(w, http.StatusConflict, "HISTORICAL", "Historical Record - cannot be altered")
	case errors.Is(err, ledger.ErrBalanceFixed):
		writeError(w, http.StatusConflict, "BALANCE_FIXED", err.Error())
	case errors.Is(err, ledger.ErrInvalidAccount):
		writeError(w, http.StatusBadRequest, "INVALID_ACCOUNT", err.Error())
	case errors.Is(err, journal.ErrInvalidCategory):
		writeError(w, http.StatusBadRequest, "INVALID_CATEGORY", err.Error())
	case errors.As(err, &param):
		writeError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	case errors.As(err, &archived):
		writeError(w, http.StatusConflict, "ALREADY_ARCHIVED", err.Error())
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
