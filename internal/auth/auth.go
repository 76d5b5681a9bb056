// Package auth carries the already-authenticated operator and the
// permissions ledger operations are checked against.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrForbidden is returned when a principal lacks a permission.
var ErrForbidden = errors.New("forbidden")

// Permission names one guarded class of operation.
type Permission string

const (
	Upload Permission = "upload_transaction"
	View   Permission = "view_transaction"
	Edit   Permission = "change_transaction"
	Report Permission = "report_transaction"
)

// All lists every permission.
var All = []Permission{Upload, View, Edit, Report}

// Principal is the operator on whose behalf a call runs.
type Principal struct {
	User        string
	Permissions []Permission
}

// System returns a principal holding every permission.
func System(user string) Principal {
	return Principal{User: user, Permissions: slices.Clone(All)}
}

// Can reports whether the principal holds perm.
func (p Principal) Can(perm Permission) bool {
	return slices.Contains(p.Permissions, perm)
}

// Require returns ErrForbidden unless the principal holds perm.
func (p Principal) Require(perm Permission) error {
	if p.Can(perm) {
		return nil
	}
	user := p.User
	if user == "" {
		user = "anonymous"
	}
	return fmt.Errorf("%s lacks %s: %w", user, perm, ErrForbidden)
}

// ParsePermissions converts names to permissions. "all" expands to every
// permission and the short forms upload, view, edit and report are accepted.
func ParsePermissions(names []string) ([]Permission, error) {
	var out []Permission
	for _, n := range names {
		n = strings.TrimSpace(strings.ToLower(n))
		if n == "" {
			continue
		}
		var p Permission
		switch n {
		case "all":
			return slices.Clone(All), nil
		case "upload", string(Upload):
			p = Upload
		case "view", string(View):
			p = View
		case "edit", "change", string(Edit):
			p = Edit
		case "report", string(Report):
			p = Report
		default:
			return nil, fmt.Errorf("unknown permission %q", n)
		}
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out, nil
}
