// Package notification implements the Notification Store.
//
// The store keeps a bounded, newest-first log of received notifications and
// their read/unread state:
//   - Fixed capacity (50 by default); inserting into a full log evicts the oldest
//   - O(1) insert through a ring buffer
//   - Read accessors return copies, never the backing slice
package notification
