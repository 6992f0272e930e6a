// Package database provides the PostgreSQL connection pool used by the
// notification archive.
//
// The archive is optional. When enabled, every notification the client
// receives is appended to the notifications table so that history survives
// beyond the in-memory log.
package database
