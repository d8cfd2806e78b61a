package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/media"
)

// Config holds the transcription pipeline settings. DedupWindow and
// KillTimeout are policy constants, tuned empirically, kept configurable.
type Config struct {
	Endpoint    string
	SampleRate  int
	FFmpegPath  string
	KillTimeout time.Duration
	DedupWindow time.Duration
}

// sttConn is the outbound STT streaming socket. *websocket.Conn satisfies
// it; tests substitute a fake.
type sttConn interface {
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (int, []byte, error)
	Close() error
}

// Transcriber attaches to one channel's audio: it owns a decode subprocess
// reading the loopback RTP stream and a streaming STT connection, and
// assembles an ordered, deduplicated transcript. A stopped transcriber is
// terminal; the registry creates a fresh one to restart.
type Transcriber struct {
	channelID  domain.ChannelID
	producerID string
	cfg        Config
	logger     zerolog.Logger

	consumer media.Consumer
	cmd      *exec.Cmd

	wmu sync.Mutex // serializes writes to stt
	stt sttConn

	mu          sync.Mutex
	transcript  []domain.TranscriptChunk
	lastPartial string
	startedAt   time.Time
	stopped     bool
	reaped      bool
	killTimer   *time.Timer

	onStop func()
}

func newTranscriber(channelID domain.ChannelID, producerID string, cfg Config, consumer media.Consumer, onStop func()) *Transcriber {
	return &Transcriber{
		channelID:  channelID,
		producerID: producerID,
		cfg:        cfg,
		consumer:   consumer,
		onStop:     onStop,
		startedAt:  time.Now(),
		logger: log.With().Str("module", "transcribe").
			Str("channel", string(channelID)).Str("producer", producerID).Logger(),
	}
}

// start launches the decode subprocess and opens the STT stream. Any
// failure tears the half-built pipeline down via Stop.
func (t *Transcriber) start(ctx context.Context) error {
	cmd := exec.Command(t.cfg.FFmpegPath,
		"-loglevel", "error",
		"-protocol_whitelist", "pipe,udp,rtp",
		"-f", "sdp",
		"-i", "pipe:0",
		"-ac", "1",
		"-ar", strconv.Itoa(t.cfg.SampleRate),
		"-f", "s16le",
		"pipe:1",
	)
	cmd.Stdin = strings.NewReader(t.consumer.SDP())
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Stop()
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		t.Stop()
		return fmt.Errorf("ffmpeg start: %w", err)
	}
	t.cmd = cmd

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, t.cfg.Endpoint, nil)
	if err != nil {
		t.Stop()
		return fmt.Errorf("stt dial: %w", err)
	}
	t.stt = ws

	// Config handshake must be the first frame on the stream.
	t.wmu.Lock()
	err = t.stt.WriteJSON(map[string]any{"config": map[string]any{"sample_rate": t.cfg.SampleRate}})
	t.wmu.Unlock()
	if err != nil {
		t.Stop()
		return fmt.Errorf("stt handshake: %w", err)
	}

	t.mu.Lock()
	t.startedAt = time.Now()
	t.mu.Unlock()

	// The pipeline self-heals when any dependency disappears.
	t.consumer.OnClose(func() {
		t.logger.Info().Msg("upstream media closed, stopping transcriber")
		t.Stop()
	})

	go t.pumpAudio(stdout)
	go t.listen()
	go t.wait()

	t.logger.Info().Msg("transcriber started")
	return nil
}

// pumpAudio forwards raw PCM from the subprocess to the STT stream.
func (t *Transcriber) pumpAudio(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if t.isStopped() {
				return
			}
			t.wmu.Lock()
			werr := t.stt.WriteMessage(websocket.BinaryMessage, buf[:n])
			t.wmu.Unlock()
			if werr != nil {
				if !t.isStopped() {
					t.logger.Error().Err(werr).Msg("stt write error")
				}
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// listen consumes STT messages one at a time, in arrival order.
func (t *Transcriber) listen() {
	for {
		_, data, err := t.stt.ReadMessage()
		if err != nil {
			if !t.isStopped() {
				t.logger.Info().Err(err).Msg("stt stream ended")
			}
			return
		}
		t.handleMessage(data)
	}
}

// wait reaps the subprocess. A non-zero exit while not stopping means the
// decoder died under us; the transcriber shuts itself down.
func (t *Transcriber) wait() {
	err := t.cmd.Wait()

	t.mu.Lock()
	t.reaped = true
	if t.killTimer != nil {
		t.killTimer.Stop()
		t.killTimer = nil
	}
	stopping := t.stopped
	t.mu.Unlock()

	if err != nil && !stopping {
		t.logger.Error().Err(err).Msg("ffmpeg exited unexpectedly, stopping transcriber")
		t.Stop()
	}
}

// handleMessage parses one STT message. Malformed input is logged and
// skipped; it is never fatal to the stream.
func (t *Transcriber) handleMessage(data []byte) {
	var msg sttMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.logger.Warn().Err(err).Msg("malformed stt message")
		return
	}

	if text := msg.finalText(); text != "" {
		norm := normalizeText(text)
		if norm == "" {
			return
		}
		startMs, endMs := t.absoluteBounds(&msg)
		accepted := t.append(domain.TranscriptChunk{
			StartMs: startMs,
			EndMs:   endMs,
			Text:    norm,
			Speaker: msg.speakerLabel(t.producerID),
		})
		if accepted {
			t.mu.Lock()
			t.lastPartial = ""
			t.mu.Unlock()
		}
		return
	}

	if msg.Partial != "" {
		t.mu.Lock()
		t.lastPartial = msg.Partial
		t.mu.Unlock()
	}
}

// absoluteBounds converts STT-relative seconds into absolute epoch
// milliseconds, falling back to wall clock when the message has no timing.
func (t *Transcriber) absoluteBounds(msg *sttMessage) (int64, int64) {
	t.mu.Lock()
	anchor := t.startedAt.UnixMilli()
	t.mu.Unlock()
	if start, end, ok := msg.timing(); ok {
		return anchor + int64(start*1000), anchor + int64(end*1000)
	}
	now := time.Now().UnixMilli()
	return now, now
}

// append adds a chunk unless it duplicates the immediately preceding one:
// identical normalized text, same speaker, end times within the dedup
// window. Guards against the STT service re-emitting a final result.
func (t *Transcriber) append(c domain.TranscriptChunk) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.transcript); n > 0 {
		last := t.transcript[n-1]
		delta := c.EndMs - last.EndMs
		if delta < 0 {
			delta = -delta
		}
		if last.Text == c.Text && last.Speaker == c.Speaker && delta <= t.cfg.DedupWindow.Milliseconds() {
			t.logger.Debug().Str("text", c.Text).Msg("dropped duplicate final")
			return false
		}
	}
	t.transcript = append(t.transcript, c)
	return true
}

// Stop tears the pipeline down. Idempotent: the second call is a no-op.
func (t *Transcriber) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	// Setting stopped first detaches every callback: pump, listen, wait and
	// the consumer close hook all check it before touching the resources
	// being torn down.
	t.stopped = true
	partial := t.lastPartial
	t.lastPartial = ""
	t.mu.Unlock()

	// A trailing utterance that never finalized is flushed best-effort.
	if norm := normalizeText(partial); norm != "" {
		now := time.Now().UnixMilli()
		t.append(domain.TranscriptChunk{StartMs: now, EndMs: now, Text: norm, Speaker: t.producerID})
	}

	if t.stt != nil {
		t.wmu.Lock()
		_ = t.stt.WriteMessage(websocket.TextMessage, []byte(`{"eof":1}`))
		t.wmu.Unlock()
		_ = t.stt.Close()
	}

	if t.cmd != nil && t.cmd.Process != nil {
		// An already-reaped subprocess needs no signal; arming the kill
		// timer here would leave nothing to cancel it.
		t.mu.Lock()
		if !t.reaped {
			_ = t.cmd.Process.Signal(syscall.SIGTERM)
			t.killTimer = time.AfterFunc(t.cfg.KillTimeout, func() {
				t.logger.Warn().Msg("ffmpeg ignored SIGTERM, killing")
				_ = t.cmd.Process.Kill()
			})
		}
		t.mu.Unlock()
	}

	if t.consumer != nil {
		// Best-effort: the resources are being discarded regardless.
		_ = t.consumer.Close()
	}

	if t.onStop != nil {
		t.onStop()
	}
	t.logger.Info().Int("chunks", len(t.GetTranscript())).Msg("transcriber stopped")
}

// ProducerID is the audio producer this transcriber is bound to.
func (t *Transcriber) ProducerID() string { return t.producerID }

func (t *Transcriber) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// GetTranscript returns the chunks with non-empty text, in insertion order.
func (t *Transcriber) GetTranscript() []domain.TranscriptChunk {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.TranscriptChunk, 0, len(t.transcript))
	for _, c := range t.transcript {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}
