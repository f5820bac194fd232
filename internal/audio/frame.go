package audio

import "time"

// Audio format constants for decoded voice frames. All speakers are captured
// as 48 kHz mono 16-bit PCM in fixed 20 ms frames.
const (
	SampleRate      = 48000
	FrameDuration   = 20 * time.Millisecond
	SamplesPerFrame = 960 // SampleRate * FrameDuration
	BytesPerSample  = 2
	FrameBytes      = SamplesPerFrame * BytesPerSample
)

// Frame is one fixed-duration decoded audio unit for one speaker.
type Frame struct {
	PCM      []int16   // exactly SamplesPerFrame samples
	Sequence uint32    // originating packet sequence number
	Arrival  time.Time // packet arrival timestamp
	Silence  bool      // true if synthesized (decode failure or gap fill)
}

// SilenceFrame returns a synthesized all-zero frame for the given sequence
// slot. Used when a packet fails to decode so a single bad packet never
// interrupts capture.
func SilenceFrame(sequence uint32, arrival time.Time) *Frame {
	return &Frame{
		PCM:      make([]int16, SamplesPerFrame),
		Sequence: sequence,
		Arrival:  arrival,
		Silence:  true,
	}
}

// Gap records a span of missing audio between two accepted frames,
// measured in whole frames. The timeline renders each gap as exact-length
// silence so track durations stay aligned.
type Gap struct {
	AfterSequence uint32 // last sequence before the gap
	Frames        int    // number of missing frame slots
}

// Duration returns the gap length as wall time.
func (g Gap) Duration() time.Duration {
	return time.Duration(g.Frames) * FrameDuration
}
