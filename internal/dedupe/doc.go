// Package dedupe tracks recently processed event IDs so redelivered
// sync events are dropped instead of re-driving the intake flow.
package dedupe
