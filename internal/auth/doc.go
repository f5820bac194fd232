// Package auth mints and verifies time-limited JWT download tokens for
// recording artifacts.
package auth
