package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// LoopbackEngine implements Engine on top of pion tracks. Producers are
// registered by the WebRTC signaling path; a plain consumer reads RTP from
// the remote track and writes the packets to a loopback UDP socket.
type LoopbackEngine struct {
	mu       sync.Mutex
	nextPort int
	tracks   map[string]*webrtc.TrackRemote
}

func NewLoopbackEngine(basePort int) *LoopbackEngine {
	return &LoopbackEngine{
		nextPort: basePort,
		tracks:   make(map[string]*webrtc.TrackRemote),
	}
}

func (e *LoopbackEngine) RegisterTrack(producerID string, track *webrtc.TrackRemote) {
	e.mu.Lock()
	e.tracks[producerID] = track
	e.mu.Unlock()
	log.Info().Str("module", "media").Str("producer", producerID).
		Str("codec", track.Codec().MimeType).Msg("track registered")
}

func (e *LoopbackEngine) UnregisterTrack(producerID string) {
	e.mu.Lock()
	delete(e.tracks, producerID)
	e.mu.Unlock()
}

func (e *LoopbackEngine) Capabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":[{"mimeType":"audio/opus","clockRate":48000,"channels":2}]}`)
}

func (e *LoopbackEngine) CreatePlainConsumer(ctx context.Context, producerID string) (Consumer, error) {
	e.mu.Lock()
	track, ok := e.tracks[producerID]
	port := e.nextPort
	e.nextPort += 2
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown producer %s", producerID)
	}

	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return nil, fmt.Errorf("dial loopback: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &plainConsumer{
		producerID: producerID,
		port:       port,
		track:      track,
		conn:       conn,
		cancel:     cancel,
	}
	go c.loop(ctx)
	return c, nil
}

type plainConsumer struct {
	producerID string
	port       int
	track      *webrtc.TrackRemote
	conn       *net.UDPConn
	cancel     context.CancelFunc

	mu      sync.Mutex
	onClose []func()
	closed  bool
}

func (c *plainConsumer) Port() int { return c.port }

func (c *plainConsumer) SDP() string {
	codec := c.track.Codec()
	name := strings.TrimPrefix(strings.ToLower(codec.MimeType), "audio/")
	return fmt.Sprintf(
		"v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=huddle-loopback\r\nc=IN IP4 127.0.0.1\r\nt=0 0\r\n"+
			"m=audio %d RTP/AVP %d\r\na=rtpmap:%d %s/%d/%d\r\n",
		c.port, codec.PayloadType, codec.PayloadType, name, codec.ClockRate, codec.Channels)
}

func (c *plainConsumer) OnClose(f func()) {
	c.mu.Lock()
	c.onClose = append(c.onClose, f)
	c.mu.Unlock()
}

// loop reads RTP packets from the source track and forwards them to the
// loopback socket until the track errors out or the consumer is closed.
func (c *plainConsumer) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := c.track.ReadRTP()
		if err != nil {
			log.Info().Err(err).Str("module", "media").Str("producer", c.producerID).
				Msg("track read ended, closing consumer")
			_ = c.Close()
			return
		}
		if err := c.forward(pkt); err != nil {
			log.Error().Err(err).Str("module", "media").Str("producer", c.producerID).
				Msg("loopback write error, closing consumer")
			_ = c.Close()
			return
		}
	}
}

func (c *plainConsumer) forward(pkt *rtp.Packet) error {
	b, err := pkt.Marshal()
	if err != nil {
		return err
	}
	_, err = c.conn.Write(b)
	return err
}

// Close is idempotent; registered close callbacks fire exactly once.
func (c *plainConsumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	handlers := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	c.cancel()
	err := c.conn.Close()
	for _, f := range handlers {
		f()
	}
	return err
}
