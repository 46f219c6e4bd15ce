// Package clock converts between user-entered wall-clock times and
// absolute instants, parameterized by the user's resolved timezone.
package clock

import (
	"log/slog"
	"time"

	"queso/internal/state"
)

// Resolver determines the authoritative IANA timezone for all scheduling
// operations. The zone is re-read on every call because the user can
// change it from settings at any time.
type Resolver struct {
	store  state.Store
	logger *slog.Logger
}

func NewResolver(store state.Store, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Resolve returns the user's timezone. It never fails: an unset or
// invalid preference falls back to the runtime's local zone, and UTC as
// the last resort.
func (r *Resolver) Resolve() *time.Location {
	name, ok, err := r.store.Get(state.KeyTimezone)
	if err != nil {
		r.logger.Warn("Could not read timezone preference, using local zone.", "error", err)
		return localOrUTC()
	}
	if !ok || name == "" {
		return localOrUTC()
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		r.logger.Warn("Stored timezone is not a valid IANA name, using local zone.", "timezone", name, "error", err)
		return localOrUTC()
	}
	return loc
}

func localOrUTC() *time.Location {
	if time.Local != nil {
		return time.Local
	}
	return time.UTC
}
