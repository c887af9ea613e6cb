// Package transport defines the chat-network-neutral event and
// directive types the intake, moderation and scheduler layers speak.
// The Matrix adapter in internal/matrix is the only implementation;
// keeping the seam here means the business layers never import mautrix
// and tests can drive them with plain values.
package transport
