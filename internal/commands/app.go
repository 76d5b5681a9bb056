package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/garagesale/treasury/internal/archive"
	"github.com/garagesale/treasury/internal/auditlog"
	"github.com/garagesale/treasury/internal/auth"
	"github.com/garagesale/treasury/internal/config"
	"github.com/garagesale/treasury/internal/fiscal"
	"github.com/garagesale/treasury/internal/journal"
	"github.com/garagesale/treasury/internal/ledger"
	"github.com/garagesale/treasury/internal/logger"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/report"
	"github.com/garagesale/treasury/internal/store"
	"github.com/garagesale/treasury/internal/upload"
)

const configFile = config.FileName

// app is an opened data directory with its services wired.
type app struct {
	dir       string
	cfg       *config.Config
	db        *store.Store
	log       zerolog.Logger
	principal auth.Principal

	ledger  *ledger.Service
	journal *journal.Service
	uploads *upload.Session
	years   *fiscal.Catalogue
	reports *report.Engine
	audit   *auditlog.Log

	archive      *archive.Archive
	closeArchive func() error
}

// openApp loads the configuration of dir and opens its database.
func openApp(cmd *cobra.Command, dir string) (*app, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	cfg, err := config.Load(filepath.Join(abs, configFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s has no %s: run treasury init first", abs, configFile)
	}
	if err != nil {
		return nil, err
	}
	log, err := logger.Configure(cmd.ErrOrStderr(), logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}
	perms, err := auth.ParsePermissions(cfg.Operator.Permissions)
	if err != nil {
		return nil, fmt.Errorf("operator.permissions: %w", err)
	}
	template, err := fiscal.ParseTemplate(cfg.Fiscal.YearStart)
	if err != nil {
		return nil, fmt.Errorf("fiscal.year_start: %w", err)
	}

	db, err := store.Open(cmd.Context(), config.Resolve(abs, cfg.Database.Path))
	if err != nil {
		return nil, err
	}
	a := &app{
		dir:       abs,
		cfg:       cfg,
		db:        db,
		log:       log,
		principal: auth.Principal{User: cfg.Operator.User, Permissions: perms},
		ledger:    ledger.NewService(db, log),
		journal:   journal.NewService(db, log),
		uploads:   upload.NewSession(db, log),
		years:     fiscal.NewCatalogue(db, template, log),
		reports: report.NewEngine(db, report.Options{
			StaleAfterDays:  cfg.Reporting.StaleAfterDays,
			SponsorCategory: cfg.Reporting.SponsorCategory,
			TopSponsors:     cfg.Reporting.TopSponsors,
		}, log),
		audit: auditlog.New(abs),
	}
	return a, nil
}

// Close releases the database and any archive client.
func (a *app) Close() error {
	var errs []error
	if a.closeArchive != nil {
		errs = append(errs, a.closeArchive())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}

// withApp opens the data directory for the duration of fn.
func withApp(cmd *cobra.Command, dir string, fn func(*app) error) error {
	a, err := openApp(cmd, dir)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// openArchive connects the configured file store.
func (a *app) openArchive(ctx context.Context) (*archive.Archive, error) {
	if a.archive != nil {
		return a.archive, nil
	}
	files, closer, err := fileStore(ctx, a.dir, a.cfg.Archive)
	if err != nil {
		return nil, err
	}
	arc, err := archive.New(a.db, files, archiveNames(a.cfg.Archive), a.log)
	if err != nil {
		if closer != nil {
			_ = closer()
		}
		return nil, err
	}
	a.archive, a.closeArchive = arc, closer
	return arc, nil
}

func fileStore(ctx context.Context, dir string, cfg config.ArchiveConfig) (archive.FileStore, func() error, error) {
	switch cfg.Backend {
	case "gcs":
		s, err := archive.NewGCSStore(ctx, cfg.Bucket, cfg.Prefix, config.Resolve(dir, cfg.CredentialsFile))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "drive":
		s, err := archive.NewDriveStore(ctx, cfg.DriveRootFolder, config.Resolve(dir, cfg.CredentialsFile))
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	default:
		return archive.LocalStore{Dir: config.Resolve(dir, cfg.LocalDir)}, nil, nil
	}
}

// archiveNames overlays configured templates on the defaults.
func archiveNames(cfg config.ArchiveConfig) map[model.ReportShape]archive.Names {
	names := archive.DefaultNames()
	for shape, n := range cfg.Reports {
		s := model.ReportShape(shape)
		cur := names[s]
		if n.Path != "" {
			cur.Path = n.Path
		}
		if n.Filename != "" {
			cur.FileName = n.Filename
		}
		names[s] = cur
	}
	return names
}

// record appends to the audit trail, warning on failure.
func (a *app) record(action string, accountID int64, reference, details string) {
	if err := a.audit.Record(a.principal.User, action, accountID, reference, details); err != nil {
		a.log.Warn().Err(err).Str("action", action).Msg("audit log write failed")
	}
}
