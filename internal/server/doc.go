// Package server exposes the HTTP control plane: session start/stop/status,
// recording listings, time-limited download links, health, and metrics.
package server
