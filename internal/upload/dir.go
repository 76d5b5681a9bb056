package upload

import (
	"context"
	"fmt"

	"github.com/garagesale/treasury/internal/auth"
	"github.com/garagesale/treasury/internal/importer"
)

// FileResult is the outcome of one statement in an import directory.
type FileResult struct {
	Name   string
	Result Result
	Err    error
}

// ApplyDir applies every CSV statement in dir, oldest name first. Accepted
// files move to dir/processed; rejected files stay put and the rest still run.
func (s *Session) ApplyDir(ctx context.Context, p auth.Principal, accountID int64, dir string) ([]FileResult, error) {
	if err := p.Require(auth.Upload); err != nil {
		return nil, err
	}
	files, err := importer.Scan(dir)
	if err != nil {
		return nil, err
	}

	out := make([]FileResult, 0, len(files))
	for _, f := range files {
		res, err := s.ApplyFile(ctx, p, accountID, f.Path)
		if err == nil {
			if _, mvErr := importer.MarkProcessed(dir, f.Name); mvErr != nil {
				err = fmt.Errorf("applied but not moved: %w", mvErr)
			}
		}
		out = append(out, FileResult{Name: f.Name, Result: res, Err: err})
	}
	return out, nil
}
