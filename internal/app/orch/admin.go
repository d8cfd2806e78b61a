package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
)

// AdmitPending moves a waiting client past admission. The client is told to
// rejoin; admission stickiness per userKey lets it straight through. A key
// that is no longer pending is a no-op, so retries are safe.
func (o *Orchestrator) AdmitPending(actor core.Participant, roomID domain.RoomID, key domain.UserKey) error {
	if !actor.CanModerate() {
		return ErrNotAllowed
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil
	}
	pc, found := room.Dequeue(key)
	if !found {
		return nil
	}
	room.MarkAdmitted(key)
	core.Send(pc.Signal, waitingRoomStatusEvent{Type: evWaitingRoomStatus, Status: StatusAdmitted, RoomID: roomID})
	room.BroadcastModerators(pendingUsersSnapshotEvent{Type: evPendingUsersSnapshot, Pending: room.PendingSnapshot()})
	log.Info().Str("module", "orch").Str("room", string(roomID)).
		Str("user", string(pc.UserID)).Msg("pending client admitted")
	return nil
}

// RejectPending drops a waiting client without admitting it.
func (o *Orchestrator) RejectPending(actor core.Participant, roomID domain.RoomID, key domain.UserKey) error {
	if !actor.CanModerate() {
		return ErrNotAllowed
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil
	}
	pc, found := room.Dequeue(key)
	if !found {
		return nil
	}
	core.Send(pc.Signal, waitingRoomStatusEvent{Type: evWaitingRoomStatus, Status: StatusRejected, RoomID: roomID})
	room.BroadcastModerators(pendingUsersSnapshotEvent{Type: evPendingUsersSnapshot, Pending: room.PendingSnapshot()})
	log.Info().Str("module", "orch").Str("room", string(roomID)).
		Str("user", string(pc.UserID)).Msg("pending client rejected")
	return nil
}

// Promote grants an active attendee the moderation capability (co-host).
// The attendee's handle is replaced in place; its socket keeps working.
func (o *Orchestrator) Promote(actor core.Participant, roomID domain.RoomID, userID domain.UserID) error {
	if !actor.CanModerate() {
		return ErrNotAllowed
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil
	}
	target, found := room.Client(userID)
	if !found || target.CanModerate() {
		return nil
	}

	promoted := core.NewModerator(target.ID(), target.Key(), target.DisplayName(), false, target.Signal())
	room.RegisterClient(promoted)

	if cc, found := o.Registry.FindActive(roomID, userID); found {
		cc.BindActive(roomID, promoted)
	}
	core.Send(promoted.Signal(), pendingUsersSnapshotEvent{Type: evPendingUsersSnapshot, Pending: room.PendingSnapshot()})
	log.Info().Str("module", "orch").Str("room", string(roomID)).
		Str("user", string(userID)).Msg("attendee promoted to co-host")
	return nil
}

// CloseProducer is the admin action that force-closes a remote producer.
func (o *Orchestrator) CloseProducer(actor core.Participant, roomID domain.RoomID, producerID string) error {
	if !actor.CanModerate() {
		return ErrNotAllowed
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil
	}
	if _, found := room.RemoveProducer(producerID); !found {
		return nil
	}
	room.BroadcastAll(nil, producerClosedEvent{Type: evProducerClosed, ProducerID: producerID})

	if t, live := o.Transcribers.Get(room.Meta().ChannelID); live && t.ProducerID() == producerID {
		t.Stop()
	}
	return nil
}
