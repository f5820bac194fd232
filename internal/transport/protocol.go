package transport

import (
	"encoding/binary"
	"fmt"
)

// Wire protocol constants
const (
	// Packet types
	PacketTypeAudio   = 0x01
	PacketTypeControl = 0x02

	// Control events
	ControlSpeakerJoined = 0x01
	ControlSpeakerLeft   = 0x02

	// Packet structure sizes
	HeaderSize             = 4  // 1 + 2 + 1 bytes
	ChannelIDSize          = 20 // Discord snowflake, null-padded ASCII
	SpeakerIDSize          = 20
	SequenceSize           = 4
	AudioPayloadHeaderSize = ChannelIDSize + SpeakerIDSize + SequenceSize
	ControlPayloadSize     = 1 + ChannelIDSize + SpeakerIDSize
)

// Header represents the 4-byte packet header
// Layout: [PacketType:1][PacketLen:2][Flags:1]
type Header struct {
	PacketType uint8  // 0x01=Audio, 0x02=Control
	PacketLen  uint16 // Total packet size (header + payload)
	Flags      uint8  // Reserved, must be zero
}

// AudioPayload represents the audio packet payload
// Layout: [ChannelID:20][SpeakerID:20][Sequence:4][PCM:N]
type AudioPayload struct {
	ChannelID [ChannelIDSize]byte // Null-padded string
	SpeakerID [SpeakerIDSize]byte // Null-padded string
	Sequence  uint32              // Per-speaker frame sequence number
	PCM       []byte              // Encoded PCM frame (variable length)
}

// ControlPayload represents a control packet payload
// Layout: [Event:1][ChannelID:20][SpeakerID:20]
type ControlPayload struct {
	Event     uint8
	ChannelID [ChannelIDSize]byte
	SpeakerID [SpeakerIDSize]byte
}

// ParsedPacket represents a fully parsed frame packet
type ParsedPacket struct {
	Header  *Header
	Audio   *AudioPayload   // Only set for audio packets
	Control *ControlPayload // Only set for control packets
}

// ParseHeader parses the 4-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		Flags:      data[3],
	}

	return header, nil
}

// ParseAudioPayload parses the audio packet payload
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{}
	copy(payload.ChannelID[:], data[0:ChannelIDSize])
	copy(payload.SpeakerID[:], data[ChannelIDSize:ChannelIDSize+SpeakerIDSize])
	payload.Sequence = binary.BigEndian.Uint32(
		data[ChannelIDSize+SpeakerIDSize : AudioPayloadHeaderSize])

	if len(data) > AudioPayloadHeaderSize {
		payload.PCM = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.PCM, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParseControlPayload parses a control packet payload
func ParseControlPayload(data []byte) (*ControlPayload, error) {
	if len(data) < ControlPayloadSize {
		return nil, fmt.Errorf("control payload too short: expected %d bytes, got %d",
			ControlPayloadSize, len(data))
	}

	payload := &ControlPayload{Event: data[0]}
	copy(payload.ChannelID[:], data[1:1+ChannelIDSize])
	copy(payload.SpeakerID[:], data[1+ChannelIDSize:ControlPayloadSize])

	return payload, nil
}

// ParsePacket parses a complete frame packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	case PacketTypeControl:
		payload, err := ParseControlPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse control payload: %w", err)
		}
		packet.Control = payload

	default:
		return nil, fmt.Errorf("unknown packet type: 0x%02x", header.PacketType)
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.Flags != 0 {
		return fmt.Errorf("unsupported flags: 0x%02x", header.Flags)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	expectedPayloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeAudio:
		if expectedPayloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, expectedPayloadSize)
		}
	case PacketTypeControl:
		if expectedPayloadSize != ControlPayloadSize {
			return fmt.Errorf("control packet payload size mismatch: expected %d, got %d",
				ControlPayloadSize, expectedPayloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeAudio || ptype == PacketTypeControl
}

// EncodeAudioPacket builds a complete audio frame packet. Used by senders
// and tests.
func EncodeAudioPacket(channelID, speakerID string, sequence uint32, pcm []byte) ([]byte, error) {
	if len(channelID) > ChannelIDSize {
		return nil, fmt.Errorf("channel ID too long: %d bytes (max %d)", len(channelID), ChannelIDSize)
	}
	if len(speakerID) > SpeakerIDSize {
		return nil, fmt.Errorf("speaker ID too long: %d bytes (max %d)", len(speakerID), SpeakerIDSize)
	}

	total := HeaderSize + AudioPayloadHeaderSize + len(pcm)
	if total > 0xFFFF {
		return nil, fmt.Errorf("packet too large: %d bytes", total)
	}

	buf := make([]byte, total)
	buf[0] = PacketTypeAudio
	binary.BigEndian.PutUint16(buf[1:3], uint16(total))
	buf[3] = 0

	copy(buf[HeaderSize:], channelID)
	copy(buf[HeaderSize+ChannelIDSize:], speakerID)
	binary.BigEndian.PutUint32(buf[HeaderSize+ChannelIDSize+SpeakerIDSize:], sequence)
	copy(buf[HeaderSize+AudioPayloadHeaderSize:], pcm)

	return buf, nil
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	nullPos := len(buf)
	for i, b := range buf {
		if b == 0 {
			nullPos = i
			break
		}
	}
	return string(buf[:nullPos])
}

// GetChannelID extracts the channel ID as a string
func (a *AudioPayload) GetChannelID() string {
	return ExtractString(a.ChannelID[:])
}

// GetSpeakerID extracts the speaker ID as a string
func (a *AudioPayload) GetSpeakerID() string {
	return ExtractString(a.SpeakerID[:])
}

// GetChannelID extracts the channel ID as a string
func (c *ControlPayload) GetChannelID() string {
	return ExtractString(c.ChannelID[:])
}

// GetSpeakerID extracts the speaker ID as a string
func (c *ControlPayload) GetSpeakerID() string {
	return ExtractString(c.SpeakerID[:])
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string
	switch h.PacketType {
	case PacketTypeAudio:
		packetType = "Audio"
	case PacketTypeControl:
		packetType = "Control"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, Flags:0x%02x}", packetType, h.PacketLen, h.Flags)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Channel:%q, Speaker:%q, Sequence:%d, PCMLen:%d}",
		a.GetChannelID(), a.GetSpeakerID(), a.Sequence, len(a.PCM))
}
