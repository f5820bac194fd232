// Package session owns the lifecycle of channel recording sessions: at most
// one active session per channel, strictly forward state transitions, and
// finalization through timeline assembly and mixing. A failed session
// preserves each speaker's raw audio instead of discarding it.
package session
