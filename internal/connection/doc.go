// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns at most one transport to the notification server at a time
//   - Starts on HTTP long-polling and upgrades to WebSocket when offered
//   - Reconnects with capped, jittered exponential backoff
//   - Classifies dial failures (timeout, unreachable, cross-origin, unknown)
//   - Dispatches inbound frames to a Handler in arrival order
package connection
