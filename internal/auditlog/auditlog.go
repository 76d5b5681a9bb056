// Package auditlog keeps an append-only CSV trail of operator mutations.
package auditlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Actions recorded in the trail.
const (
	ActionUpload     = "upload"
	ActionEdit       = "edit"
	ActionSplitAdd   = "split-add"
	ActionSplitEdit  = "split-edit"
	ActionSplitDel   = "split-delete"
	ActionArchive    = "archive"
	ActionCloseYear  = "close-year"
	ActionCreateYear = "create-year"
	ActionRecheck    = "recheck"
	ActionSetBalance = "set-balance"
)

// Entry is one row of the audit log.
type Entry struct {
	Timestamp time.Time
	User      string
	Action    string
	Details   string
	AccountID int64 // 0 when the action is not account-scoped
	Reference string
}

// Header is the CSV header of audit-log.csv.
const Header = "timestamp,user,action,details,account,reference"

// File is the log's path relative to the data directory.
const File = "logs/audit-log.csv"

const (
	numFields    = 6
	colTimestamp = 0
	colUser      = 1
	colAction    = 2
	colDetails   = 3
	colAccount   = 4
	colReference = 5
)

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.UTC().Format(time.RFC3339)
	row[colUser] = e.User
	row[colAction] = e.Action
	row[colDetails] = e.Details
	if e.AccountID != 0 {
		row[colAccount] = strconv.FormatInt(e.AccountID, 10)
	}
	row[colReference] = e.Reference
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}
	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}
	e := Entry{
		Timestamp: ts,
		User:      record[colUser],
		Action:    record[colAction],
		Details:   record[colDetails],
		Reference: record[colReference],
	}
	if s := record[colAccount]; s != "" {
		if e.AccountID, err = strconv.ParseInt(s, 10, 64); err != nil {
			return Entry{}, fmt.Errorf("parsing account %q: %w", s, err)
		}
	}
	return e, nil
}

// Log appends entries to <dir>/logs/audit-log.csv. It is safe for
// concurrent use.
type Log struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// New creates a Log rooted at dir.
func New(dir string) *Log {
	return &Log{dir: dir, now: time.Now}
}

// Path returns the log file's location.
func (l *Log) Path() string {
	return filepath.Join(l.dir, filepath.FromSlash(File))
}

// Record stamps and appends one entry.
func (l *Log) Record(user, action string, accountID int64, reference, details string) error {
	return l.Append(Entry{
		Timestamp: l.now(),
		User:      user,
		Action:    action,
		Details:   details,
		AccountID: accountID,
		Reference: reference,
	})
}

// Append writes entries, creating the file and header if needed.
func (l *Log) Append(entries ...Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read returns every entry, oldest first. A missing file reads as empty.
func (l *Log) Read() ([]Entry, error) {
	f, err := os.Open(l.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()
	return ReadEntries(f)
}

// ForAccount returns the entries recorded against one account.
func (l *Log) ForAccount(accountID int64) ([]Entry, error) {
	all, err := l.Read()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range all {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ReadEntries parses an audit log CSV, header first.
func ReadEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading audit log CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	entries := make([]Entry, 0, len(records)-1)
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
