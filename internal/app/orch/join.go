package orch

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/app"
	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
)

type JoinRequest struct {
	RoomID domain.RoomID
	Token  string
	// SessionID is what the client claims to be; checked against the token.
	SessionID string
	// DisplayName is an explicit override. Only honored for admins, where it
	// becomes a sticky per-user override in the room.
	DisplayName string
	Ghost       bool
}

type JoinResult struct {
	Status       string                   `json:"status"` // "joined" | "waiting"
	RoomID       domain.RoomID            `json:"roomId"`
	Capabilities json.RawMessage          `json:"capabilities,omitempty"`
	Names        map[domain.UserID]string `json:"names,omitempty"`
	Hands        []domain.UserID          `json:"raised,omitempty"`
	Quality      string                   `json:"quality,omitempty"`
	Producers    []core.ProducerInfo      `json:"producers,omitempty"`
	Pending      []core.PendingInfo       `json:"pending,omitempty"`
	Ghosts       []core.MemberInfo        `json:"ghosts,omitempty"`
	NoAdmin      bool                     `json:"noAdmin,omitempty"`
}

// JoinRoom runs the admission state machine for one socket: identity
// resolution, room creation gates, waiting-room enqueue or activation.
// Failures are reported to the caller and mutate nothing.
func (o *Orchestrator) JoinRoom(cc *app.ConnContext, req JoinRequest) (*JoinResult, error) {
	ident, err := o.Identity.Resolve(req.Token, req.SessionID, req.DisplayName)
	if err != nil {
		return nil, err
	}
	cc.SetIdentity(ident)

	room, exists := o.Rooms.Get(req.RoomID)
	if !exists {
		if o.Draining() {
			return nil, fmt.Errorf("%w: server draining", app.ErrAdmissionDenied)
		}
		if !ident.Admin && !o.AllowGuestRooms {
			return nil, fmt.Errorf("%w: room creation requires admin", app.ErrAdmissionDenied)
		}
		room = o.Rooms.GetOrCreate(&domain.Room{
			ID:        req.RoomID,
			ChannelID: channelFor(ident.ClientID, req.RoomID),
			ClientID:  ident.ClientID,
		})
		if !ident.Admin && !room.HasModerator() {
			// A guest-created room starts admin-less; the grace timer keeps
			// it from outliving everyone if no admin ever shows up.
			o.armCleanup(room)
		}
	}

	// A socket waiting in another room abandons that spot first, so its old
	// room's admins never see a phantom requester.
	if oldRoomID, oldKey, ok := cc.PendingIn(); ok && oldRoomID != room.Meta().ID {
		o.leavePending(cc, oldRoomID, oldKey)
	}

	// Non-admins wait for admission; admission is sticky per userKey, so a
	// reconnect of an already-admitted user goes straight through.
	if !ident.Admin && !room.WasAdmitted(ident.Key) {
		return o.enqueueWaiting(cc, room, ident), nil
	}

	return o.activate(cc, room, ident, req), nil
}

func (o *Orchestrator) enqueueWaiting(cc *app.ConnContext, room *core.Room, ident domain.Identity) *JoinResult {
	room.Enqueue(&core.PendingClient{
		UserID:      ident.UserID,
		Key:         ident.Key,
		DisplayName: ident.DisplayName,
		Signal:      cc.Signal,
	})
	cc.BindPending(room.Meta().ID, ident.Key)

	room.BroadcastModerators(userRequestedJoinEvent{
		Type: evUserRequestedJoin,
		User: core.PendingInfo{UserID: ident.UserID, Key: ident.Key, DisplayName: ident.DisplayName},
	})

	log.Info().Str("module", "orch").Str("room", string(room.Meta().ID)).
		Str("user", string(ident.UserID)).Msg("client waiting for admission")

	return &JoinResult{
		Status: StatusWaiting,
		RoomID: room.Meta().ID,
		// Capabilities let the client prepare media without yet producing.
		Capabilities: o.Media.Capabilities(),
		NoAdmin:      !room.HasModerator(),
	}
}

func (o *Orchestrator) activate(cc *app.ConnContext, room *core.Room, ident domain.Identity, req JoinRequest) *JoinResult {
	// A socket switching rooms leaves its old room cleanly first.
	if oldRoomID, oldP, ok := cc.Active(); ok && oldRoomID != room.Meta().ID {
		o.leaveActive(cc, oldRoomID, oldP)
	}

	ghost := req.Ghost && ident.Admin

	if ident.Admin && req.DisplayName != "" {
		room.OverrideName(ident.UserID, req.DisplayName, true)
	}
	name := room.ResolveName(ident.UserID, ident.DisplayName)

	var p core.Participant
	if ident.Admin {
		p = core.NewModerator(ident.UserID, ident.Key, name, ghost, cc.Signal)
	} else {
		p = core.NewAttendee(ident.UserID, ident.Key, name, cc.Signal)
	}

	// Last-writer-wins: a still-registered handle for this userId is a
	// reconnect race; the new handle supersedes it and the old socket's
	// eventual disconnect is absorbed as stale.
	if old := room.RegisterClient(p); old != nil {
		log.Info().Str("module", "orch").Str("room", string(room.Meta().ID)).
			Str("user", string(ident.UserID)).Msg("superseded stale handle")
	}
	room.MarkAdmitted(ident.Key)
	cc.BindActive(room.Meta().ID, p)

	joined := userJoinedEvent{Type: evUserJoined, User: core.MemberInfo{
		ID: p.ID(), DisplayName: name, Ghost: ghost,
	}}
	if ghost {
		// A ghost's join is visible only to other ghosts.
		room.BroadcastGhosts(p, joined)
	} else {
		room.BroadcastAll(p, joined)
	}

	o.recomputeQuality(room)

	res := &JoinResult{
		Status:       "joined",
		RoomID:       room.Meta().ID,
		Capabilities: o.Media.Capabilities(),
		Names:        room.NameSnapshot(ghost),
		Hands:        room.Hands(),
		Quality:      room.Quality(),
		Producers:    room.Producers(),
	}
	if p.CanModerate() {
		res.Pending = room.PendingSnapshot()
	}
	if ghost {
		res.Ghosts = room.GhostRoster()
	}
	return res
}

func channelFor(clientID domain.ClientID, roomID domain.RoomID) domain.ChannelID {
	if clientID == "" {
		return domain.ChannelID(roomID)
	}
	return domain.ChannelID(fmt.Sprintf("%s/%s", clientID, roomID))
}
