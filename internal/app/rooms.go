package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
)

// RoomRegistry is the process-wide owner of rooms. Everything else holds
// non-owning references.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*core.Room
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[domain.RoomID]*core.Room)}
}

func (rr *RoomRegistry) Get(id domain.RoomID) (*core.Room, bool) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	room, ok := rr.rooms[id]
	return room, ok
}

func (rr *RoomRegistry) GetOrCreate(meta *domain.Room) *core.Room {
	rr.mu.RLock()
	room, ok := rr.rooms[meta.ID]
	rr.mu.RUnlock()
	if ok {
		return room
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if room, ok = rr.rooms[meta.ID]; ok {
		return room
	}
	room = core.NewRoom(meta)
	rr.rooms[meta.ID] = room
	log.Info().Str("module", "app.rooms").Str("room", string(meta.ID)).
		Str("channel", string(meta.ChannelID)).Msg("room created")
	return room
}

func (rr *RoomRegistry) Remove(id domain.RoomID) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if _, ok := rr.rooms[id]; ok {
		delete(rr.rooms, id)
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room removed")
	}
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"client_count"`
}

func (rr *RoomRegistry) List() []RoomInfo {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	out := make([]RoomInfo, 0, len(rr.rooms))
	for id, room := range rr.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: room.ActiveCount()})
	}
	return out
}
