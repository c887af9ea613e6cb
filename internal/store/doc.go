// Package store provides persistent storage for submission records using SQLite.
//
// # Data Model
//
// A Record is the unit of work: one order or free-form promotion submitted
// by a user, moving through the moderation and publishing lifecycle. The
// Status type carries the forward-only transition graph; callers check
// CanTransition before writing a new status. Records are never deleted.
//
// # Queries
//
// Beyond keyed access the store supports exactly the access patterns the
// rest of the gateway needs:
//
//   - ListPending: moderation queue, oldest first
//   - ListDue: approved records whose scheduled time has arrived
//   - CountSince: trailing-window submission count for rate limiting
//   - ListByOwner: a user's own submissions
//   - StatusCounts: per-status histogram for operator stats
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode. The schema is created automatically
// on startup; indexes cover (status, scheduled_at) and (owner_id,
// created_at).
//
// # Error Handling
//
//   - ErrNotFound: requested record does not exist
//   - ErrDuplicateID: generated ID collided (invariant violation)
//
// All methods accept context.Context for cancellation support.
package store
