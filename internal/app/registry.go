package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
)

// ConnContext is the volatile per-socket state. Room and participant fields
// are weak back-references: the room registry owns the room, the room owns
// the participant handle.
type ConnContext struct {
	SID    domain.SessionID
	Signal core.SignalConnection
	Cancel context.CancelFunc

	mu          sync.Mutex
	identity    domain.Identity
	roomID      domain.RoomID
	participant core.Participant
	pendingRoom domain.RoomID
	pendingKey  domain.UserKey
}

func (c *ConnContext) SetIdentity(id domain.Identity) {
	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()
}

func (c *ConnContext) Identity() domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// BindActive records the socket as an active participant of roomID.
func (c *ConnContext) BindActive(roomID domain.RoomID, p core.Participant) {
	c.mu.Lock()
	c.roomID = roomID
	c.participant = p
	c.pendingRoom = ""
	c.pendingKey = ""
	c.mu.Unlock()
}

// BindPending records the socket as waiting for admission into roomID.
func (c *ConnContext) BindPending(roomID domain.RoomID, key domain.UserKey) {
	c.mu.Lock()
	c.pendingRoom = roomID
	c.pendingKey = key
	c.roomID = ""
	c.participant = nil
	c.mu.Unlock()
}

func (c *ConnContext) ClearActive() {
	c.mu.Lock()
	c.roomID = ""
	c.participant = nil
	c.mu.Unlock()
}

func (c *ConnContext) ClearPending() {
	c.mu.Lock()
	c.pendingRoom = ""
	c.pendingKey = ""
	c.mu.Unlock()
}

func (c *ConnContext) Active() (domain.RoomID, core.Participant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.participant == nil {
		return "", nil, false
	}
	return c.roomID, c.participant, true
}

func (c *ConnContext) PendingIn() (domain.RoomID, domain.UserKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingRoom == "" {
		return "", "", false
	}
	return c.pendingRoom, c.pendingKey, true
}

// Registry tracks live connection contexts by session id.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.SessionID]*ConnContext
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.SessionID]*ConnContext)}
}

func (r *Registry) Bind(sid domain.SessionID, sig core.SignalConnection, cancel context.CancelFunc) *ConnContext {
	cc := &ConnContext{SID: sid, Signal: sig, Cancel: cancel}
	r.mu.Lock()
	r.conns[sid] = cc
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound connection")
	return cc
}

func (r *Registry) Get(sid domain.SessionID) (*ConnContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cc, ok := r.conns[sid]
	return cc, ok
}

func (r *Registry) Unbind(sid domain.SessionID) {
	r.mu.Lock()
	delete(r.conns, sid)
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbound connection")
}

// FindActive locates the connection context whose registered participant is
// uid in roomID, if any.
func (r *Registry) FindActive(roomID domain.RoomID, uid domain.UserID) (*ConnContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cc := range r.conns {
		if rid, p, ok := cc.Active(); ok && rid == roomID && p.ID() == uid {
			return cc, true
		}
	}
	return nil, false
}

func (r *Registry) Cancel(sid domain.SessionID) bool {
	r.mu.RLock()
	cc, ok := r.conns[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if cc.Cancel != nil {
		cc.Cancel()
	}
	return true
}
