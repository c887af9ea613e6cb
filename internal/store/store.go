// ABOUTME: Store interface and data types for promo-gateway persistence
// ABOUTME: Defines the Record struct, status lifecycle and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateID is returned when creating a record whose ID already
// exists. IDs are generated, so hitting this means the generator is
// broken, not that the user did something wrong.
var ErrDuplicateID = errors.New("record id already exists")

// Status is the lifecycle state of a record.
type Status string

const (
	// StatusCreated: record exists, waiting for the target link/handle.
	StatusCreated Status = "created"
	// StatusLinkReceived: target captured, user is reviewing/confirming.
	StatusLinkReceived Status = "link_received"
	// StatusAwaitingReceipt: payment method chosen, waiting for proof.
	StatusAwaitingReceipt Status = "awaiting_receipt"
	// StatusPending: proof attached, waiting for operator review.
	StatusPending Status = "pending"
	// StatusApproved: operator approved, eligible for publishing.
	StatusApproved Status = "approved"
	// StatusRejected: operator rejected. Terminal.
	StatusRejected Status = "rejected"
	// StatusProcessing: order is being fulfilled by an operator.
	StatusProcessing Status = "processing"
	// StatusDone: order fulfillment finished. Terminal.
	StatusDone Status = "done"
	// StatusPosted: published to all destinations. Terminal.
	StatusPosted Status = "posted"
	// StatusCancelled: cancelled by the owner or an operator. Terminal.
	StatusCancelled Status = "cancelled"
)

// transitions is the forward edge set of the status graph. Cancellation
// is handled separately: it is legal from any non-terminal status.
var transitions = map[Status][]Status{
	StatusCreated:         {StatusLinkReceived},
	StatusLinkReceived:    {StatusLinkReceived, StatusAwaitingReceipt},
	StatusAwaitingReceipt: {StatusPending},
	StatusPending:         {StatusApproved, StatusRejected},
	StatusApproved:        {StatusPosted, StatusProcessing},
	StatusProcessing:      {StatusDone},
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusDone, StatusPosted, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	if next == StatusCancelled {
		return !s.Terminal()
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// ProofAttachable reports whether payment proof may still be written.
// Once a record reaches moderation the proof is frozen.
func (s Status) ProofAttachable() bool {
	switch s {
	case StatusCreated, StatusLinkReceived, StatusAwaitingReceipt:
		return true
	}
	return false
}

// ContentKind distinguishes catalog orders from free-form promotions.
const (
	ContentOrder = "order" // catalog item, target is a link/handle
	ContentText  = "text"  // free-form text promotion
	ContentPhoto = "photo" // free-form photo promotion
	ContentVideo = "video" // free-form video promotion
)

// Record is the persisted unit of work: one submitted order or
// promotion moving through the lifecycle. Records are never deleted;
// cancellation and rejection are terminal statuses, not removals.
type Record struct {
	ID        string
	OwnerID   string
	OwnerName string
	// RoomID is the conversation the record was created in, used to
	// address owner notifications.
	RoomID string

	// Content descriptor. For catalog orders Service/PackageGroup/
	// PackageQty/Price/Target are set. For free-form promotions
	// ContentKind, MediaRef and Caption carry the content.
	Service      string
	PackageGroup string
	PackageQty   string
	Price        string
	Target       string
	ContentKind  string
	MediaRef     string
	Caption      string

	PaymentMethod  string
	PaymentProof   string
	Status         Status
	ModerationNote string
	// DeliveryOutcome summarizes the per-destination publish results,
	// written by the scheduler when the record is posted.
	DeliveryOutcome string

	// ScheduledAt, when set, delays publishing until it passes.
	// Nil means publish as soon as approved.
	ScheduledAt *time.Time
	CreatedAt   time.Time
}

// Store defines the persistence contract for records. It is a pure
// keyed store with field-level update and the query patterns the
// intake, moderation and scheduler components need; no business rules
// live here.
type Store interface {
	// CreateRecord inserts a new record. Returns ErrDuplicateID if the
	// ID is already taken.
	CreateRecord(ctx context.Context, rec *Record) error

	// GetRecord returns the record or ErrNotFound.
	GetRecord(ctx context.Context, id string) (*Record, error)

	// UpdateRecordFields applies a partial mutation in a single atomic
	// UPDATE. Field names are record columns; unknown fields are an
	// error. Returns ErrNotFound if the record does not exist.
	UpdateRecordFields(ctx context.Context, id string, fields map[string]any) error

	// ListPending returns records awaiting moderation, oldest first.
	ListPending(ctx context.Context, limit int) ([]*Record, error)

	// ListDue returns approved records whose scheduled time has passed
	// or was never set.
	ListDue(ctx context.Context, now time.Time) ([]*Record, error)

	// CountSince counts records an owner created at or after since.
	CountSince(ctx context.Context, ownerID string, since time.Time) (int, error)

	// ListByOwner returns an owner's records, newest first.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Record, error)

	// StatusCounts returns the number of records per status.
	StatusCounts(ctx context.Context) (map[Status]int, error)

	Close() error
}
