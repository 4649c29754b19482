// Package repository defines the user-state persistence capability the
// router and style manager consume. A durable backing store is an external
// collaborator (out of scope for the core); this package ships a
// process-local in-memory implementation suitable for standalone operation
// and tests.
package repository

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the backing store cannot service a
// request. Per the error handling design, reads degrade open (the caller
// proceeds with a transient empty record) while writes fail loudly.
var ErrUnavailable = errors.New("repository unavailable")

// User mirrors the persisted users table: qq_id primary key, optional
// nickname, privilege flag, and the per-category style selection map.
type User struct {
	QQID           int64
	Nickname       string
	IsPrivileged   bool
	SelectedStyles map[string]string // category id -> command set id
}

// Clone returns a copy safe to hand to a caller without aliasing the
// repository's internal map.
func (u User) Clone() User {
	cp := u
	cp.SelectedStyles = make(map[string]string, len(u.SelectedStyles))
	for k, v := range u.SelectedStyles {
		cp.SelectedStyles[k] = v
	}
	return cp
}

// Repository is the persistence capability consumed by the router (C6) and
// style manager (C7). Implementations must serialize concurrent writes to
// the same user — the in-memory implementation does this with a striped
// lock; a durable implementation would typically rely on row-level locking.
type Repository interface {
	// GetUser returns the user record, creating one lazily with defaults
	// if this is the first sighting of qqID.
	GetUser(ctx context.Context, qqID int64) (User, error)

	// SetSelectedStyle atomically sets user.selected_styles[category] = commandSet
	// and returns the updated record.
	SetSelectedStyle(ctx context.Context, qqID int64, category, commandSet string) (User, error)

	// Upsert writes an externally-constructed record (e.g. from the admin
	// surface), overwriting the nickname and privilege flag. Entries in
	// user.SelectedStyles are merged into the existing map; categories absent
	// from it keep their current selection.
	Upsert(ctx context.Context, user User) error
}
