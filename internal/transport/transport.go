// ABOUTME: Transport-neutral event and directive types for the promo gateway
// ABOUTME: Defines the boundary between the chat transport and the intake core

package transport

import "context"

// EventKind classifies an inbound chat event.
type EventKind int

const (
	// EventText is a plain text message.
	EventText EventKind = iota
	// EventButton is a button press carrying an opaque payload string.
	EventButton
	// EventMedia is a photo/video/document message carrying a file reference.
	EventMedia
)

// Event is a single inbound chat event, stripped of transport envelope
// details. The core only ever sees sender identity, payload/text, and
// media references.
type Event struct {
	Kind EventKind

	// Sender is the stable identity of the user who sent the event.
	Sender string
	// SenderName is a best-effort display name for the sender.
	SenderName string
	// RoomID identifies the conversation the event arrived in, used to
	// address replies and later owner notifications.
	RoomID string

	// Text is the message body for EventText, or the caption-less text.
	Text string
	// Payload is the opaque button payload for EventButton.
	Payload string
	// MediaRef is the opaque file reference for EventMedia.
	MediaRef string
	// MediaKind distinguishes media events: "photo", "video" or "file".
	MediaKind string
	// Caption is the media caption for EventMedia, if any.
	Caption string
}

// Button is a single labeled action in a keyboard.
type Button struct {
	Label   string
	Payload string
}

// Directive is an outbound reply the core asks the transport to deliver.
// Text is treated as markdown; transports that support rich formatting
// render it, others send it verbatim.
type Directive struct {
	Text string

	// Keyboard is an optional list of button rows presented with the text.
	Keyboard [][]Button

	// MediaRef, when set, sends the referenced media with Text as caption.
	MediaRef string
	// MediaKind hints how to send MediaRef: "photo" (default) or "video".
	MediaKind string
}

// Messenger delivers directives to a room. Implementations must not
// retry indefinitely; a failed send returns an error and is the
// caller's problem (usually logged and dropped).
type Messenger interface {
	Send(ctx context.Context, roomID string, d Directive) error
}

// OperatorNotifier fans a directive out to the moderation audience.
// Delivery is best-effort: implementations log failures and never
// return them to the caller in a way that should abort a transition.
type OperatorNotifier interface {
	NotifyOperators(ctx context.Context, d Directive) error
}

// Destination is a single publishing target for approved records.
type Destination interface {
	// Name identifies the destination in logs and delivery outcomes.
	Name() string
	// Publish delivers the directive to the destination.
	Publish(ctx context.Context, d Directive) error
}
