// Package cache holds the current-state snapshot of every known container.
//
// Stores do whole-record replacement only. Callers that want to change a
// single field read the record, mutate a copy and put it back, accepting
// that concurrent writers to the same key overwrite each other.
package cache

import (
	"context"

	"karavan/internal/status"
)

// Store is a key/value store of status records.
type Store interface {
	Get(ctx context.Context, key status.GroupedKey) (status.ContainerStatus, bool, error)
	Put(ctx context.Context, rec status.ContainerStatus) error
	Delete(ctx context.Context, key status.GroupedKey) error
	List(ctx context.Context, filter Filter) ([]status.ContainerStatus, error)
}

// Filter selects records by key components. Empty fields match anything.
type Filter struct {
	ProjectID string
	Env       string
	Type      status.ContainerType
}

// Matches reports whether rec satisfies the filter.
func (f Filter) Matches(rec status.ContainerStatus) bool {
	if f.ProjectID != "" && f.ProjectID != rec.ProjectID {
		return false
	}
	if f.Env != "" && f.Env != rec.Env {
		return false
	}
	if f.Type != "" && f.Type != rec.Type {
		return false
	}
	return true
}
