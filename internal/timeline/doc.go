// Package timeline reconstructs a common time axis across per-speaker streams
// that share no synchronization signal, producing equal-length silence-padded
// tracks ready for mixing.
package timeline
