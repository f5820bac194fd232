// Package store persists recording metadata and download tokens in SQLite.
// Recording rows are created when a session starts and transition exactly
// once to completed or failed.
package store
