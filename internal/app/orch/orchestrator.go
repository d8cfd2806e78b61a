// Package orch mutates rooms and connection contexts in response to socket
// events: admission control, role semantics, ghost visibility, stale-session
// disambiguation and admin-failover cleanup.
package orch

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/huddlekit/huddle/internal/app"
	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/media"
	"github.com/huddlekit/huddle/internal/transcribe"
)

// ErrNotAllowed means the caller lacks the moderation capability the
// operation requires.
var ErrNotAllowed = errors.New("moderator capability required")

type Orchestrator struct {
	Identity     *app.IdentityResolver
	Registry     *app.Registry
	Rooms        *app.RoomRegistry
	Policy       app.QualityPolicy
	Media        media.Engine
	Transcribers *transcribe.Registry

	// CleanupGrace is how long an admin-less room survives. Tuned, not
	// derived; see config.
	CleanupGrace    time.Duration
	AllowGuestRooms bool

	draining atomic.Bool
}

// Draining reports whether the server refuses new rooms.
func (o *Orchestrator) Draining() bool { return o.draining.Load() }

// SetDraining toggles draining mode. actor may be nil for internal callers
// (shutdown); otherwise it must hold the moderation capability.
func (o *Orchestrator) SetDraining(actor core.Participant, on bool) error {
	if actor != nil && !actor.CanModerate() {
		return ErrNotAllowed
	}
	o.draining.Store(on)
	return nil
}

// recomputeQuality re-derives the room's media-quality directive from the
// headcount and broadcasts it when it changed. Called after any membership
// change.
func (o *Orchestrator) recomputeQuality(room *core.Room) {
	q := o.Policy.Directive(room.ActiveCount())
	if room.SetQuality(q) {
		room.BroadcastAll(nil, setVideoQualityEvent{Type: evSetVideoQuality, Quality: q})
	}
}
