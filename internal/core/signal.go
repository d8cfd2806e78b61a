package core

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Frame is a raw binary payload.
type Frame []byte

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Send marshals v and pushes it onto the connection. Delivery is best-effort;
// a slow consumer loses the frame rather than stalling the caller.
func Send(c SignalConnection, v any) {
	if c == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core.signal").Msg("send marshal")
		return
	}
	_ = c.TrySend(b)
}
