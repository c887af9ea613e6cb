// ABOUTME: Privileged moderation operations over submission records
// ABOUTME: Allow-list checked transitions with best-effort owner notification

package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/enzopromo/promo-gateway/internal/store"
	"github.com/enzopromo/promo-gateway/internal/transport"
)

// ErrUnauthorized is returned when a non-operator attempts a
// privileged operation.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInvalidTransition is returned when the record's current status
// does not allow the requested transition.
var ErrInvalidTransition = errors.New("invalid status transition")

// Gateway exposes the operator-only lifecycle transitions. All
// operations check the caller against the allow-list first and are
// idempotent on the current status: requesting a transition into the
// status the record already has is a no-op success.
type Gateway struct {
	store     store.Store
	operators map[string]bool
	messenger transport.Messenger
	logger    *slog.Logger
}

// New creates a moderation gateway. messenger is used for best-effort
// owner notifications and may deliver to the room each record was
// created in.
func New(st store.Store, operators []string, messenger transport.Messenger, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(operators))
	for _, op := range operators {
		allowed[op] = true
	}
	return &Gateway{
		store:     st,
		operators: allowed,
		messenger: messenger,
		logger:    logger.With("component", "moderation"),
	}
}

// IsOperator reports whether the identity is on the allow-list.
func (g *Gateway) IsOperator(id string) bool {
	return g.operators[id]
}

// ListPending returns records awaiting review, oldest first.
func (g *Gateway) ListPending(ctx context.Context, caller string, limit int) ([]*store.Record, error) {
	if !g.IsOperator(caller) {
		return nil, ErrUnauthorized
	}
	return g.store.ListPending(ctx, limit)
}

// Stats returns the per-status record counts.
func (g *Gateway) Stats(ctx context.Context, caller string) (map[store.Status]int, error) {
	if !g.IsOperator(caller) {
		return nil, ErrUnauthorized
	}
	return g.store.StatusCounts(ctx)
}

// Approve moves a pending record to approved.
func (g *Gateway) Approve(ctx context.Context, caller, id string) error {
	note := fmt.Sprintf("approved by %s", caller)
	return g.transition(ctx, caller, id, store.StatusApproved,
		map[string]any{"moderation_note": note},
		fmt.Sprintf("✅ Your order `%s` has been approved and will be posted soon.", id))
}

// Reject moves a pending record to rejected, storing the reason.
func (g *Gateway) Reject(ctx context.Context, caller, id, reason string) error {
	if reason == "" {
		reason = "No reason provided."
	}
	return g.transition(ctx, caller, id, store.StatusRejected,
		map[string]any{"moderation_note": reason},
		fmt.Sprintf("❌ Your order `%s` was rejected. Reason: %s", id, reason))
}

// MarkProcessing moves an approved order into fulfillment.
func (g *Gateway) MarkProcessing(ctx context.Context, caller, id string) error {
	return g.transition(ctx, caller, id, store.StatusProcessing, nil,
		fmt.Sprintf("🔄 Your order `%s` is now being processed.", id))
}

// MarkDone finishes an order's fulfillment.
func (g *Gateway) MarkDone(ctx context.Context, caller, id string) error {
	return g.transition(ctx, caller, id, store.StatusDone, nil,
		fmt.Sprintf("✅ Your order `%s` is complete. Thank you!", id))
}

// Cancel marks a record cancelled. Unlike the other operations it is
// also allowed for the record's owner.
func (g *Gateway) Cancel(ctx context.Context, caller, id string) error {
	rec, err := g.store.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if !g.IsOperator(caller) && caller != rec.OwnerID {
		return ErrUnauthorized
	}
	if rec.Status == store.StatusCancelled {
		return nil
	}
	if !rec.Status.CanTransition(store.StatusCancelled) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, store.StatusCancelled)
	}
	err = g.store.UpdateRecordFields(ctx, id, map[string]any{
		"status": store.StatusCancelled,
	})
	if err != nil {
		return fmt.Errorf("cancelling record: %w", err)
	}
	g.logger.Info("record cancelled", "record", id, "caller", caller)
	g.notifyOwner(ctx, rec, fmt.Sprintf("Your order `%s` was cancelled.", id))
	return nil
}

// transition performs one allow-list checked status change. The owner
// notification is attempted on every call, including the idempotent
// no-op case, and its failure never rolls the transition back.
func (g *Gateway) transition(ctx context.Context, caller, id string, next store.Status, fields map[string]any, ownerMsg string) error {
	if !g.IsOperator(caller) {
		return ErrUnauthorized
	}

	rec, err := g.store.GetRecord(ctx, id)
	if err != nil {
		return err
	}

	if rec.Status == next {
		g.notifyOwner(ctx, rec, ownerMsg)
		return nil
	}
	if !rec.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, next)
	}

	if fields == nil {
		fields = make(map[string]any, 1)
	}
	fields["status"] = next
	if err := g.store.UpdateRecordFields(ctx, id, fields); err != nil {
		return fmt.Errorf("updating record %s: %w", id, err)
	}

	g.logger.Info("record transitioned",
		"record", id, "from", rec.Status, "to", next, "caller", caller)

	g.notifyOwner(ctx, rec, ownerMsg)
	return nil
}

// notifyOwner sends a best-effort message to the room the record was
// created in. Failures are logged and swallowed.
func (g *Gateway) notifyOwner(ctx context.Context, rec *store.Record, text string) {
	if rec.RoomID == "" {
		g.logger.Warn("no room to notify owner in", "record", rec.ID)
		return
	}
	err := g.messenger.Send(ctx, rec.RoomID, transport.Directive{Text: text})
	if err != nil {
		g.logger.Warn("owner notification failed",
			"record", rec.ID, "owner", rec.OwnerID, "error", err)
	}
}
