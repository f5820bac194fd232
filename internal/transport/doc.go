// Package transport implements the frame packet wire format and the UDP
// gateway that feeds incoming speaker frames into the session manager.
package transport
