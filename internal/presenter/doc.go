// Package presenter turns classified notifications into user-visible effects.
//
// Three outputs are supported, each behind a small interface so they can be
// swapped or faked:
//
//   - Toaster: short in-app messages (terminal or structured log)
//   - Desktop: OS notifications via notify-send on Linux and osascript on macOS
//   - Player: audio cues via paplay/afplay, falling back to the terminal bell
//
// Desktop notifications follow a permission state machine. The first native
// notification asks once; after that the answer sticks. A native notification
// that fails to start degrades to a toast. Sound failures are logged only.
package presenter
