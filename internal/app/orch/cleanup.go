package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
)

// armCleanup starts the grace period after the last moderator departs.
// Waiting clients are told nobody can admit them right away; the timer
// re-checks everything when it fires because a moderator may have rejoined
// (which cancels the timer) or raced the firing.
func (o *Orchestrator) armCleanup(room *core.Room) {
	o.notifyWaiting(room, StatusNoAdmin)
	roomID := room.Meta().ID
	room.ArmCleanup(o.CleanupGrace, func() {
		o.onCleanupFired(roomID)
	})
}

func (o *Orchestrator) onCleanupFired(roomID domain.RoomID) {
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return
	}
	if room.HasModerator() {
		// Rejoin raced the timer; the room lives on.
		return
	}
	o.notifyWaiting(room, StatusNoAdmin)
	if room.Empty() {
		o.destroyRoom(room)
		return
	}
	// Attendees are still in the call; check again after another grace
	// period so the room cannot outlive its last member.
	room.ArmCleanup(o.CleanupGrace, func() {
		o.onCleanupFired(roomID)
	})
}

func (o *Orchestrator) destroyRoom(room *core.Room) {
	room.CancelCleanup()
	o.Rooms.Remove(room.Meta().ID)
	// Release external media resources tied to the channel.
	o.Transcribers.Stop(room.Meta().ChannelID)
	log.Info().Str("module", "orch").Str("room", string(room.Meta().ID)).Msg("room destroyed")
}

func (o *Orchestrator) notifyWaiting(room *core.Room, status string) {
	ev := waitingRoomStatusEvent{Type: evWaitingRoomStatus, Status: status, RoomID: room.Meta().ID}
	for _, sig := range room.PendingSignals() {
		core.Send(sig, ev)
	}
}
