// Package api serves the operator JSON API.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/garagesale/treasury/internal/archive"
	"github.com/garagesale/treasury/internal/auditlog"
	"github.com/garagesale/treasury/internal/fiscal"
	"github.com/garagesale/treasury/internal/journal"
	"github.com/garagesale/treasury/internal/ledger"
	"github.com/garagesale/treasury/internal/report"
	"github.com/garagesale/treasury/internal/upload"
)

// Deps are the services behind the API.
type Deps struct {
	Ledger  *ledger.Service
	Journal *journal.Service
	Uploads *upload.Session
	Years   *fiscal.Catalogue
	Reports *report.Engine
	Archive *archive.Archive // nil disables archiving
	Audit   *auditlog.Log    // nil disables the audit trail

	// ArchiveFormat is the rendering stored by archive requests.
	ArchiveFormat string

	Auth Authenticator
	Log  zerolog.Logger
}

type server struct {
	Deps
	now func() time.Time
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.Auth == nil {
		d.Auth = HeaderAuthenticator{}
	}
	if d.ArchiveFormat == "" {
		d.ArchiveFormat = report.FormatText
	}
	return newServer(d, time.Now).routes()
}

func newServer(d Deps, now func() time.Time) *server {
	return &server{Deps: d, now: now}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(Recovery(s.Log))
	r.Use(RequestLogger(s.Log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(s.Auth))

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.listAccounts)
			r.Post("/", s.openAccount)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getAccount)
				r.Patch("/", s.patchAccount)
				r.Get("/transactions", s.listTransactions)
				r.Get("/export", s.exportStatement)
				r.Get("/verify", s.verify)
				r.Get("/uploads", s.listUploads)
				r.Post("/uploads", s.uploadStatement)
				r.Get("/uploads/{upload}", s.getUpload)
				r.Get("/errors", s.listErrors)
				r.Post("/recheck", s.recheck)
				r.Get("/archive", s.listArchived)
				r.Get("/reports/{shape}", s.getReport)
				r.Post("/reports/{shape}/archive", s.archiveReport)
			})
		})

		r.Route("/transactions/{id}", func(r chi.Router) {
			r.Get("/", s.getTransaction)
			r.Patch("/", s.editTransaction)
			r.Get("/categories", s.validCategories)
			r.Post("/splits", s.addSplit)
		})
		r.Put("/splits/{id}", s.editSplit)
		r.Delete("/splits/{id}", s.deleteSplit)

		r.Get("/categories", s.listCategories)
		r.Post("/categories", s.addCategories)

		r.Route("/years", func(r chi.Router) {
			r.Get("/", s.listYears)
			r.Post("/", s.createYear)
			r.Get("/current", s.currentYear)
			r.Put("/{label}", s.updateYear)
			r.Post("/{label}/close", s.closeYear)
		})
	})
	return r
}

// audit appends to the trail. A failed write is logged, not returned: the
// mutation it describes has already committed.
func (s *server) audit(r *http.Request, action string, accountID int64, reference, details string) {
	if s.Audit == nil {
		return
	}
	p := principal(r.Context())
	if err := s.Audit.Record(p.User, action, accountID, reference, details); err != nil {
		s.Log.Warn().Err(err).Str("action", action).Msg("audit log write failed")
	}
}
