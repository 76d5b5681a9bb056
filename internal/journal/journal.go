// Package journal keeps the per-transaction error journal in step with the
// category registry.
package journal

import (
	"context"
	"fmt"

	"github.com/garagesale/treasury/internal/categories"
	"github.com/garagesale/treasury/internal/model"
	"github.com/garagesale/treasury/internal/store"
)

// Change says what Reclassify did to a transaction's journal entries.
type Change int

const (
	Unchanged Change = iota
	Created
	Updated
	Cleared
)

func (c Change) String() string {
	switch c {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Cleared:
		return "cleared"
	}
	return "unchanged"
}

// Reclassify classifies t and brings its journal entries in line: a valid
// transaction loses every entry, an invalid one keeps exactly one entry
// carrying the current message. Split children are never journalled.
func Reclassify(ctx context.Context, q *store.Queries, cats *categories.Service, t model.Transaction) (Change, error) {
	existing, err := q.UploadErrors(ctx, store.ErrorFilter{TransactionID: t.ID})
	if err != nil {
		return Unchanged, err
	}

	if t.IsSplit() {
		return clearEntries(ctx, q, t.ID, existing)
	}

	r := cats.Classify(t)
	if r.OK() {
		return clearEntries(ctx, q, t.ID, existing)
	}

	msg := r.Message()
	if len(existing) == 0 {
		if t.UploadHistoryID == 0 {
			return Unchanged, fmt.Errorf("transaction %d has no upload to journal against", t.ID)
		}
		e := model.UploadError{UploadHistoryID: t.UploadHistoryID, TransactionID: t.ID, Message: msg}
		if err := q.CreateUploadError(ctx, &e); err != nil {
			return Unchanged, err
		}
		return Created, nil
	}

	change := Unchanged
	if existing[0].Message != msg {
		if err := q.UpdateUploadErrorMessage(ctx, existing[0].ID, msg); err != nil {
			return Unchanged, err
		}
		change = Updated
	}
	if len(existing) > 1 {
		// Older duplicates are folded into the first entry.
		if _, err := q.DeleteUploadErrors(ctx, t.ID); err != nil {
			return Unchanged, err
		}
		e := model.UploadError{UploadHistoryID: existing[0].UploadHistoryID, TransactionID: t.ID, Message: msg}
		if err := q.CreateUploadError(ctx, &e); err != nil {
			return Unchanged, err
		}
		change = Updated
	}
	return change, nil
}

func clearEntries(ctx context.Context, q *store.Queries, id int64, existing []model.UploadError) (Change, error) {
	if len(existing) == 0 {
		return Unchanged, nil
	}
	if _, err := q.DeleteUploadErrors(ctx, id); err != nil {
		return Unchanged, err
	}
	return Cleared, nil
}
