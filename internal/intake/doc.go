// Package intake turns a user's sequence of chat events into a
// submission record ready for moderation.
//
// # State Machine
//
// Each owner has at most one active flow, tracked process-locally by
// the Tracker:
//
//	(idle) -> selecting -> awaiting_target -> review
//	review -> editing_target -> review
//	review -> awaiting_payment_method -> awaiting_receipt -> (idle)
//
// Button payloads are parsed into typed actions before dispatch; every
// (stage, event-kind) pair maps to exactly one transition. Unexpected
// input re-prompts and stays in place, it never advances the flow.
// A cancel signal is honored at any stage; a pre-moderation record is
// marked cancelled, never deleted.
//
// When the payment proof arrives the record becomes pending, the
// moderation room is notified (best-effort) and the flow ends.
//
// # Ordering
//
// The Dispatcher serializes events per owner: all events from one
// owner hash to the same worker and are processed in arrival order.
// No ordering is implied across owners.
//
// # Rate Limiting
//
// Creating a new record (package selection) is capped per owner over a
// trailing window via the store's CountSince. Editing and resuming an
// existing record is never rate limited.
package intake
