// Package media is the boundary to the media-forwarding engine. The control
// plane only consumes producer ids, loopback consumers, and close events.
package media

import (
	"context"
	"encoding/json"
)

// Consumer is a plain (loopback) consumer bound to one audio producer. It
// forwards the producer's RTP stream to a 127.0.0.1 UDP port where a decode
// subprocess can pick it up.
type Consumer interface {
	// SDP describes the forwarded stream in a form a decoder accepts on stdin.
	SDP() string
	Port() int
	// OnClose registers a callback fired once when the upstream producer or
	// transport disappears, or when Close is called.
	OnClose(func())
	Close() error
}

// Engine is the media engine surface used by the orchestrator.
type Engine interface {
	CreatePlainConsumer(ctx context.Context, producerID string) (Consumer, error)
	// Capabilities is the room-level codec capability blob handed to joining
	// clients so they can prepare before producing.
	Capabilities() json.RawMessage
}
