package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// wavHeader is the 44-byte canonical PCM WAV header.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

func newWAVHeader(totalSamples int) wavHeader {
	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(totalSamples * BytesPerSample)

	return wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(SampleRate),
		ByteRate:      uint32(SampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// EncodeWAV encodes PCM-16 mono samples into a complete WAV file image.
func EncodeWAV(samples []int16) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*BytesPerSample))

	header := newWAVHeader(len(samples))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// TrackWriter streams a fixed-length mono track to a WAV file. The total
// sample count is declared up front so the header can be written before the
// data, letting long tracks render without buffering in memory.
type TrackWriter struct {
	w       io.Writer
	total   int
	written int
	zeros   []byte
}

// NewTrackWriter writes the WAV header for a track of exactly totalSamples
// samples and returns a writer for the PCM data.
func NewTrackWriter(w io.Writer, totalSamples int) (*TrackWriter, error) {
	if totalSamples <= 0 {
		return nil, fmt.Errorf("track must contain at least one sample, got %d", totalSamples)
	}

	header := newWAVHeader(totalSamples)
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	return &TrackWriter{
		w:     w,
		total: totalSamples,
		zeros: make([]byte, FrameBytes),
	}, nil
}

// WriteSamples appends PCM samples to the track.
func (t *TrackWriter) WriteSamples(samples []int16) error {
	if t.written+len(samples) > t.total {
		return fmt.Errorf("track overflow: %d samples declared, writing %d",
			t.total, t.written+len(samples))
	}

	if err := binary.Write(t.w, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}

	t.written += len(samples)
	return nil
}

// WriteSilence appends n samples of silence to the track.
func (t *TrackWriter) WriteSilence(n int) error {
	if t.written+n > t.total {
		return fmt.Errorf("track overflow: %d samples declared, writing %d",
			t.total, t.written+n)
	}

	remaining := n * BytesPerSample
	for remaining > 0 {
		chunk := remaining
		if chunk > len(t.zeros) {
			chunk = len(t.zeros)
		}
		if _, err := t.w.Write(t.zeros[:chunk]); err != nil {
			return fmt.Errorf("failed to write silence: %w", err)
		}
		remaining -= chunk
	}

	t.written += n
	return nil
}

// Close verifies the track carries exactly the declared number of samples.
func (t *TrackWriter) Close() error {
	if t.written != t.total {
		return fmt.Errorf("track underflow: %d samples declared, wrote %d", t.total, t.written)
	}
	return nil
}

// ValidateWAVFile checks that a file on disk is a structurally sound PCM WAV
// with a non-empty data chunk. Used to detect corrupt tracks before mixing.
func ValidateWAVFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, 44)
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("WAV header too short in %s: %w", path, err)
	}

	if string(header[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file %s: missing RIFF header", path)
	}

	if string(header[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file %s: missing WAVE format", path)
	}

	if string(header[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file %s: missing fmt chunk", path)
	}

	if string(header[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file %s: missing data chunk", path)
	}

	if binary.LittleEndian.Uint32(header[40:44]) == 0 {
		return fmt.Errorf("invalid WAV file %s: empty data chunk", path)
	}

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	dataSize := int64(binary.LittleEndian.Uint32(header[40:44]))
	if info.Size() < 44+dataSize {
		return fmt.Errorf("truncated WAV file %s: header declares %d data bytes, file has %d",
			path, dataSize, info.Size()-44)
	}

	return nil
}

// WAVDuration returns the duration in seconds of a PCM WAV file on disk.
func WAVDuration(path string) (float64, error) {
	if err := ValidateWAVFile(path); err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	header := make([]byte, 44)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, err
	}

	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	if sampleRate == 0 {
		return 0, fmt.Errorf("invalid sample rate in %s", path)
	}

	dataSize := binary.LittleEndian.Uint32(header[40:44])
	blockAlign := binary.LittleEndian.Uint16(header[32:34])
	if blockAlign == 0 {
		return 0, fmt.Errorf("invalid block align in %s", path)
	}

	return float64(dataSize/uint32(blockAlign)) / float64(sampleRate), nil
}
