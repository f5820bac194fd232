package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrDecode indicates a corrupt or unsupported audio payload. Callers recover
// by substituting a synthesized silence frame; a decode failure never aborts
// a stream.
var ErrDecode = errors.New("audio decode error")

// Decoder converts raw voice payloads into fixed-format PCM frames.
// It is stateless and safe for concurrent use.
type Decoder struct{}

// NewDecoder creates a frame decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode parses one raw packet payload into a 20 ms PCM frame. The payload
// must carry exactly one frame of 16-bit little-endian mono samples. On
// failure it returns an error wrapping ErrDecode; it never buffers or
// persists anything.
func (d *Decoder) Decode(payload []byte, sequence uint32, arrival time.Time) (*Frame, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload (seq=%d)", ErrDecode, sequence)
	}

	if len(payload)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: payload length %d is not sample-aligned (seq=%d)",
			ErrDecode, len(payload), sequence)
	}

	if len(payload) != FrameBytes {
		return nil, fmt.Errorf("%w: payload carries %d samples, expected %d (seq=%d)",
			ErrDecode, len(payload)/BytesPerSample, SamplesPerFrame, sequence)
	}

	pcm := make([]int16, SamplesPerFrame)
	for i := 0; i < SamplesPerFrame; i++ {
		pcm[i] = int16(payload[i*2]) | int16(payload[i*2+1])<<8
	}

	return &Frame{
		PCM:      pcm,
		Sequence: sequence,
		Arrival:  arrival,
	}, nil
}

// DecodeOrSilence decodes a payload, substituting a synthesized silence frame
// on failure. The returned error is informational only; the frame is always
// usable.
func (d *Decoder) DecodeOrSilence(payload []byte, sequence uint32, arrival time.Time) (*Frame, error) {
	frame, err := d.Decode(payload, sequence, arrival)
	if err != nil {
		return SilenceFrame(sequence, arrival), err
	}
	return frame, nil
}
