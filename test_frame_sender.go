package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"net"
	"time"

	"github.com/chrimage/discord-voice-scribe/internal/audio"
	"github.com/chrimage/discord-voice-scribe/internal/transport"
)

// Sends synthetic sine-wave frames at the real 20ms cadence so a locally
// running service can be exercised end to end without a voice gateway.
func main() {
	addr := flag.String("addr", "127.0.0.1:8765", "UDP address of the service")
	channelID := flag.String("channel", "100000000000000001", "channel ID")
	speakerID := flag.String("speaker", "200000000000000001", "speaker ID")
	seconds := flag.Int("seconds", 10, "how long to send audio")
	freq := flag.Float64("freq", 440, "tone frequency in Hz")
	flag.Parse()

	conn, err := net.Dial("udp", *addr)
	if err != nil {
		log.Fatalf("Failed to dial %s: %v", *addr, err)
	}
	defer conn.Close()

	frames := *seconds * 1000 / int(audio.FrameDuration.Milliseconds())
	fmt.Printf("Sending %d frames to %s (channel=%s speaker=%s)\n",
		frames, *addr, *channelID, *speakerID)

	pcm := make([]byte, audio.FrameBytes)
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	for seq := 0; seq < frames; seq++ {
		for i := 0; i < audio.SamplesPerFrame; i++ {
			n := seq*audio.SamplesPerFrame + i
			sample := int16(10000 * math.Sin(2*math.Pi**freq*float64(n)/float64(audio.SampleRate)))
			pcm[2*i] = byte(sample)
			pcm[2*i+1] = byte(sample >> 8)
		}

		packet, err := transport.EncodeAudioPacket(*channelID, *speakerID, uint32(seq), pcm)
		if err != nil {
			log.Fatalf("Failed to encode packet: %v", err)
		}
		if _, err := conn.Write(packet); err != nil {
			log.Fatalf("Failed to send packet: %v", err)
		}

		<-ticker.C
	}

	fmt.Println("Done")
}
