package transcribe

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/media"
)

// Registry enforces at most one live transcriber per channel and keeps the
// transcript of a stopped channel around for the minutes flow. Owned by the
// server's top-level lifecycle: created at process start, drained at
// shutdown.
type Registry struct {
	cfg    Config
	engine media.Engine

	mu     sync.Mutex
	live   map[domain.ChannelID]*Transcriber
	cached map[domain.ChannelID][]domain.TranscriptChunk
}

func NewRegistry(cfg Config, engine media.Engine) *Registry {
	return &Registry{
		cfg:    cfg,
		engine: engine,
		live:   make(map[domain.ChannelID]*Transcriber),
		cached: make(map[domain.ChannelID][]domain.TranscriptChunk),
	}
}

// Start wires a transcriber to the channel's audio producer. No-op when the
// channel is already wired or when no STT endpoint is configured:
// transcription is optional, not a hard dependency.
func (r *Registry) Start(ctx context.Context, channelID domain.ChannelID, producerID string) error {
	if r.cfg.Endpoint == "" {
		return nil
	}

	r.mu.Lock()
	if _, ok := r.live[channelID]; ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	consumer, err := r.engine.CreatePlainConsumer(ctx, producerID)
	if err != nil {
		return fmt.Errorf("plain consumer: %w", err)
	}

	var t *Transcriber
	t = newTranscriber(channelID, producerID, r.cfg, consumer, func() {
		r.remove(channelID, t)
	})

	r.mu.Lock()
	if _, ok := r.live[channelID]; ok {
		// Lost the race to another start for the same channel.
		r.mu.Unlock()
		_ = consumer.Close()
		return nil
	}
	r.live[channelID] = t
	r.mu.Unlock()

	if err := t.start(ctx); err != nil {
		log.Error().Err(err).Str("module", "transcribe").
			Str("channel", string(channelID)).Msg("transcriber start failed")
		return err
	}
	return nil
}

func (r *Registry) remove(channelID domain.ChannelID, t *Transcriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live[channelID] == t {
		delete(r.live, channelID)
		r.cached[channelID] = t.GetTranscript()
	}
}

func (r *Registry) Get(channelID domain.ChannelID) (*Transcriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.live[channelID]
	return t, ok
}

// Stop stops the channel's transcriber if one is live.
func (r *Registry) Stop(channelID domain.ChannelID) {
	if t, ok := r.Get(channelID); ok {
		t.Stop()
	}
}

// Transcript returns the live transcript for the channel, or the cached one
// if the transcriber already stopped.
func (r *Registry) Transcript(channelID domain.ChannelID) []domain.TranscriptChunk {
	if t, ok := r.Get(channelID); ok {
		return t.GetTranscript()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cached[channelID]
}

// Shutdown stops every live transcriber. Called once at process shutdown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*Transcriber, 0, len(r.live))
	for _, t := range r.live {
		all = append(all, t)
	}
	r.mu.Unlock()
	for _, t := range all {
		t.Stop()
	}
	log.Info().Str("module", "transcribe").Int("stopped", len(all)).Msg("registry drained")
}
