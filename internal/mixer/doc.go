// Package mixer renders a session's aligned speaker tracks into a single
// encoded audio artifact using an external ffmpeg process. Execution is
// bounded by a timeout proportional to the session duration, retried with
// exponential backoff, and the output is validated against the expected
// duration before the artifact is accepted.
package mixer
