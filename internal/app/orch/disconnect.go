package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/app"
	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
)

// OnDisconnect runs when the socket dies. A handle that was already
// superseded by a newer session is a stale disconnect: no mutation, no
// broadcast.
func (o *Orchestrator) OnDisconnect(cc *app.ConnContext) {
	if roomID, key, ok := cc.PendingIn(); ok {
		o.leavePending(cc, roomID, key)
	}

	if roomID, p, ok := cc.Active(); ok {
		if room, found := o.Rooms.Get(roomID); found && !room.IsCurrent(p) {
			log.Info().Str("module", "orch").Str("room", string(roomID)).
				Str("user", string(p.ID())).Msg("stale disconnect ignored")
			cc.ClearActive()
		} else {
			o.leaveActive(cc, roomID, p)
		}
	}

	o.Registry.Unbind(cc.SID)
}

// Leave handles an explicit leave without dropping the socket.
func (o *Orchestrator) Leave(cc *app.ConnContext) {
	if roomID, key, ok := cc.PendingIn(); ok {
		o.leavePending(cc, roomID, key)
	}
	if roomID, p, ok := cc.Active(); ok {
		o.leaveActive(cc, roomID, p)
	}
}

// leavePending removes the socket's waiting-room entry. An entry that a
// newer socket re-enqueued for the same userKey is left alone: the old
// socket's late disconnect must not evict the reconnected requester.
func (o *Orchestrator) leavePending(cc *app.ConnContext, roomID domain.RoomID, key domain.UserKey) {
	if room, ok := o.Rooms.Get(roomID); ok {
		if pc, found := room.RemovePending(key, cc.Signal); found {
			room.BroadcastModerators(pendingUserLeftEvent{
				Type: evPendingUserLeft,
				User: core.PendingInfo{UserID: pc.UserID, Key: pc.Key, DisplayName: pc.DisplayName},
			})
		} else if _, still := room.Pending(key); still {
			log.Info().Str("module", "orch").Str("room", string(roomID)).
				Msg("stale pending disconnect ignored")
		}
	}
	cc.ClearPending()
}

// leaveActive removes the handle, closes its producers, broadcasts the
// departure under the same ghost-visibility rules as join, and re-arms the
// cleanup timer when the last moderator is gone.
func (o *Orchestrator) leaveActive(cc *app.ConnContext, roomID domain.RoomID, p core.Participant) {
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		cc.ClearActive()
		return
	}
	if !room.RemoveClient(p) {
		// Superseded between the caller's check and now; absorb.
		cc.ClearActive()
		return
	}

	for _, pi := range room.ProducersOwnedBy(p.ID()) {
		if _, found := room.RemoveProducer(pi.ID); found {
			room.BroadcastAll(nil, producerClosedEvent{Type: evProducerClosed, ProducerID: pi.ID})
		}
	}

	left := userLeftEvent{Type: evUserLeft, User: core.MemberInfo{
		ID: p.ID(), DisplayName: p.DisplayName(), Ghost: p.Ghost(),
	}}
	if p.Ghost() {
		room.BroadcastGhosts(p, left)
	} else {
		room.BroadcastAll(p, left)
	}

	cc.ClearActive()

	if p.CanModerate() && !room.HasModerator() {
		o.armCleanup(room)
	}
	o.recomputeQuality(room)
}
