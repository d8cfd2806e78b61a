package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/app"
	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
)

// OnProducerReady records a new media producer for the socket's room and
// attaches the transcriber when the room's audio comes up.
func (o *Orchestrator) OnProducerReady(ctx context.Context, cc *app.ConnContext, producerID, kind string) {
	roomID, p, ok := cc.Active()
	if !ok {
		return
	}
	room, found := o.Rooms.Get(roomID)
	if !found || !room.IsCurrent(p) {
		// Membership changed under us while the media side was settling.
		return
	}

	room.AddProducer(core.ProducerInfo{ID: producerID, Kind: kind, Owner: p.ID()})
	room.BroadcastAll(p, newProducerEvent{Type: evNewProducer, Producer: core.ProducerInfo{
		ID: producerID, Kind: kind, Owner: p.ID(),
	}})

	if kind == "audio" {
		if err := o.Transcribers.Start(ctx, room.Meta().ChannelID, producerID); err != nil {
			// Transcription failure never breaks the room.
			log.Error().Err(err).Str("module", "orch").Str("room", string(roomID)).
				Msg("transcription attach failed")
		}
	}
}

// OnProducerClosed drops a producer the media side reported gone.
func (o *Orchestrator) OnProducerClosed(cc *app.ConnContext, producerID string) {
	roomID, _, ok := cc.Active()
	if !ok {
		return
	}
	room, found := o.Rooms.Get(roomID)
	if !found {
		return
	}
	if _, removed := room.RemoveProducer(producerID); removed {
		room.BroadcastAll(nil, producerClosedEvent{Type: evProducerClosed, ProducerID: producerID})
	}
}

// StartTranscription is the admin action mirroring the automatic attach.
func (o *Orchestrator) StartTranscription(ctx context.Context, actor core.Participant, roomID domain.RoomID, producerID string) error {
	if !actor.CanModerate() {
		return ErrNotAllowed
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil
	}
	return o.Transcribers.Start(ctx, room.Meta().ChannelID, producerID)
}

func (o *Orchestrator) StopTranscription(actor core.Participant, roomID domain.RoomID) error {
	if !actor.CanModerate() {
		return ErrNotAllowed
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil
	}
	o.Transcribers.Stop(room.Meta().ChannelID)
	return nil
}

// RaiseHand toggles the socket's raised-hand flag and rebroadcasts the
// snapshot.
func (o *Orchestrator) RaiseHand(cc *app.ConnContext, raised bool) {
	roomID, p, ok := cc.Active()
	if !ok {
		return
	}
	room, found := o.Rooms.Get(roomID)
	if !found {
		return
	}
	room.SetHand(p.ID(), raised)
	room.BroadcastAll(nil, handRaisedSnapshotEvent{Type: evHandRaisedSnapshot, Raised: room.Hands()})
}
