package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/chrimage/discord-voice-scribe/internal/config"
	"github.com/chrimage/discord-voice-scribe/internal/metrics"
	"github.com/chrimage/discord-voice-scribe/internal/session"
)

// UDPGateway receives frame packets from the voice gateway bridge and routes
// them into the session manager.
type UDPGateway struct {
	conn       *net.UDPConn
	config     *config.Transport
	logger     *slog.Logger
	sessionMgr *session.Manager
	metrics    *metrics.Metrics

	// Concurrency management. The receiver has its own wait group so the
	// packet channel can be closed only after it has stopped sending.
	ctx    context.Context
	cancel context.CancelFunc
	recvWg sync.WaitGroup
	wg     sync.WaitGroup

	// Packet processing
	packetChan chan *incomingPacket

	// Counters for the shutdown summary
	packetsReceived  uint64
	packetsProcessed uint64
	parseErrors      uint64
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	arrival    time.Time
}

// NewUDPGateway creates a new UDP gateway instance
func NewUDPGateway(cfg *config.Transport, logger *slog.Logger, sessionMgr *session.Manager, m *metrics.Metrics) *UDPGateway {
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPGateway{
		config:     cfg,
		logger:     logger,
		sessionMgr: sessionMgr,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, 1000),
	}
}

// Start begins listening for frame packets
func (g *UDPGateway) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", g.config.BindAddress, g.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	g.conn = conn

	if err := g.conn.SetReadBuffer(g.config.BufferSize); err != nil {
		g.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", g.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	g.logger.Info("UDP gateway started",
		slog.String("address", addr.String()),
		slog.Int("buffer_size", g.config.BufferSize),
		slog.Int("workers", g.config.Workers),
	)

	for i := 0; i < g.config.Workers; i++ {
		g.wg.Add(1)
		go g.packetProcessor(i)
	}

	g.recvWg.Add(1)
	go g.receiveLoop()

	return nil
}

// Stop gracefully stops the UDP gateway
func (g *UDPGateway) Stop() error {
	g.logger.Info("Stopping UDP gateway...")

	g.cancel()

	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// The receiver must be fully stopped before the packet channel closes,
	// or a packet read just before shutdown could be sent on a closed
	// channel. The processors then drain the channel and exit.
	g.recvWg.Wait()
	close(g.packetChan)
	g.wg.Wait()

	g.mu.RLock()
	packetsReceived := g.packetsReceived
	packetsProcessed := g.packetsProcessed
	parseErrors := g.parseErrors
	g.mu.RUnlock()

	g.logger.Info("UDP gateway stopped",
		slog.Uint64("packets_received", packetsReceived),
		slog.Uint64("packets_processed", packetsProcessed),
		slog.Uint64("parse_errors", parseErrors),
	)

	return nil
}

// receiveLoop is the main packet receiving loop
func (g *UDPGateway) receiveLoop() {
	defer g.recvWg.Done()

	buffer := make([]byte, g.config.BufferSize)

	for {
		select {
		case <-g.ctx.Done():
			g.logger.Info("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Read deadline lets the loop observe cancellation periodically.
		if err := g.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			g.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := g.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-g.ctx.Done():
				return
			default:
				g.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		g.mu.Lock()
		g.packetsReceived++
		g.mu.Unlock()
		g.metrics.RecordPacketReceived()

		// Copy out of the reused read buffer.
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			arrival:    time.Now(),
		}

		select {
		case g.packetChan <- packet:
			g.metrics.SetQueueSize(len(g.packetChan))
		default:
			g.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor processes packets from the packet channel
func (g *UDPGateway) packetProcessor(workerID int) {
	defer g.wg.Done()

	g.logger.Debug("Packet processor started", slog.Int("worker_id", workerID))

	for packet := range g.packetChan {
		g.handlePacket(packet, workerID)
	}

	g.logger.Debug("Packet processor stopped", slog.Int("worker_id", workerID))
}

// handlePacket parses and routes a single incoming packet
func (g *UDPGateway) handlePacket(packet *incomingPacket, workerID int) {
	parsed, err := ParsePacket(packet.data)
	if err != nil {
		g.mu.Lock()
		g.parseErrors++
		g.mu.Unlock()
		g.metrics.RecordParseError()

		g.logger.Error("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	g.mu.Lock()
	g.packetsProcessed++
	g.mu.Unlock()
	g.metrics.RecordPacketProcessed()

	switch parsed.Header.PacketType {
	case PacketTypeAudio:
		g.processAudioPacket(parsed.Audio, packet.arrival, workerID)
	case PacketTypeControl:
		g.processControlPacket(parsed.Control, workerID)
	}
}

// processAudioPacket routes one frame into the owning session
func (g *UDPGateway) processAudioPacket(payload *AudioPayload, arrival time.Time, workerID int) {
	channelID := payload.GetChannelID()
	speakerID := payload.GetSpeakerID()

	err := g.sessionMgr.OnFrame(channelID, speakerID, payload.Sequence, payload.PCM, arrival)
	if err != nil {
		g.logger.Warn("Frame rejected",
			slog.String("channel_id", channelID),
			slog.String("speaker_id", speakerID),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
	}
}

// processControlPacket logs speaker presence events. Buffers are allocated
// lazily on first audio frame, so control packets are informational.
func (g *UDPGateway) processControlPacket(payload *ControlPayload, workerID int) {
	var event string
	switch payload.Event {
	case ControlSpeakerJoined:
		event = "joined"
	case ControlSpeakerLeft:
		event = "left"
	default:
		event = fmt.Sprintf("unknown(0x%02x)", payload.Event)
	}

	g.logger.Info("Speaker presence event",
		slog.String("channel_id", payload.GetChannelID()),
		slog.String("speaker_id", payload.GetSpeakerID()),
		slog.String("event", event),
		slog.Int("worker_id", workerID),
	)
}

// GetStatistics returns current gateway statistics
func (g *UDPGateway) GetStatistics() GatewayStatistics {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return GatewayStatistics{
		PacketsReceived:  g.packetsReceived,
		PacketsProcessed: g.packetsProcessed,
		ParseErrors:      g.parseErrors,
		ActiveSessions:   uint64(g.sessionMgr.ActiveCount()),
		QueueSize:        uint64(len(g.packetChan)),
		QueueCapacity:    uint64(cap(g.packetChan)),
	}
}

// GatewayStatistics represents gateway performance metrics
type GatewayStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseErrors      uint64 `json:"parse_errors"`
	ActiveSessions   uint64 `json:"active_sessions"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}
