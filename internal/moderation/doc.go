// Package moderation implements the operator-only record lifecycle
// operations: listing the review queue, approving, rejecting and
// fulfillment tracking. Every operation checks the caller against the
// configured allow-list and notifies the record's owner best-effort.
package moderation
