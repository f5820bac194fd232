// Package audio implements per-speaker audio capture: decoding raw voice
// packets into fixed-duration PCM frames, accumulating them in gap-aware
// sequence-ordered buffers with disk spill, and rendering finished tracks
// to WAV for mixing.
package audio
