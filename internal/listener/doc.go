// Package listener holds the callbacks that observe notification and
// connection events.
//
// Events are delivered in registration order on the caller's goroutine. A
// listener that panics is recovered and logged so the remaining listeners
// still receive the event.
package listener
