package core

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/domain"
)

// PendingClient is a waiting-room entry: identified, not yet admitted.
type PendingClient struct {
	UserID      domain.UserID
	Key         domain.UserKey
	DisplayName string
	Signal      SignalConnection
}

// PendingInfo is the read-only view of a waiting-room entry.
type PendingInfo struct {
	UserID      domain.UserID  `json:"userId"`
	Key         domain.UserKey `json:"userKey"`
	DisplayName string         `json:"displayName"`
}

// MemberInfo is the read-only view of an active participant.
type MemberInfo struct {
	ID          domain.UserID `json:"id"`
	DisplayName string        `json:"displayName"`
	Ghost       bool          `json:"ghost,omitempty"`
}

// ProducerInfo describes a media producer announced to the room.
type ProducerInfo struct {
	ID    string        `json:"id"`
	Kind  string        `json:"kind"`
	Owner domain.UserID `json:"owner"`
}

type nameOverride struct {
	name   string
	forced bool
}

// Room is a threadsafe in-memory meeting aggregate. It owns its participants
// and the waiting-room queue but never closes adapter-owned transports.
//
// Invariants: a userId is active or pending, never both; the cleanup timer is
// armed only while no moderator is active.
type Room struct {
	meta *domain.Room

	mu        sync.Mutex
	clients   map[domain.UserID]Participant
	pending   map[domain.UserKey]*PendingClient
	admitted  map[domain.UserKey]bool
	overrides map[domain.UserID]nameOverride
	hands     map[domain.UserID]bool
	producers map[string]ProducerInfo
	quality   string
	cleanup   *time.Timer
}

func NewRoom(meta *domain.Room) *Room {
	return &Room{
		meta:      meta,
		clients:   make(map[domain.UserID]Participant),
		pending:   make(map[domain.UserKey]*PendingClient),
		admitted:  make(map[domain.UserKey]bool),
		overrides: make(map[domain.UserID]nameOverride),
		hands:     make(map[domain.UserID]bool),
		producers: make(map[string]ProducerInfo),
	}
}

func (r *Room) Meta() *domain.Room { return r.meta }

// RegisterClient activates p, evicting any pending entry for the same user
// and returning the handle it replaced (reconnect race, last writer wins).
// A joining moderator disarms the cleanup timer.
func (r *Room) RegisterClient(p Participant) Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.clients[p.ID()]
	delete(r.pending, p.Key())
	r.clients[p.ID()] = p
	if p.CanModerate() {
		r.cancelCleanupLocked()
	}
	log.Info().Str("module", "core.room").Str("room", string(r.meta.ID)).
		Str("user", string(p.ID())).Bool("moderator", p.CanModerate()).
		Bool("ghost", p.Ghost()).Msg("client registered")
	return old
}

// RemoveClient removes p only if it is still the registered handle for its
// userId. A superseded handle reports false and mutates nothing.
func (r *Room) RemoveClient(p Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.clients[p.ID()]
	if !ok || cur != p {
		return false
	}
	delete(r.clients, p.ID())
	delete(r.hands, p.ID())
	log.Info().Str("module", "core.room").Str("room", string(r.meta.ID)).
		Str("user", string(p.ID())).Msg("client removed")
	return true
}

// IsCurrent reports whether p is still the registered handle for its userId.
func (r *Room) IsCurrent(p Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[p.ID()] == p
}

func (r *Room) Client(id domain.UserID) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.clients[id]
	return p, ok
}

func (r *Room) HasModerator() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasModeratorLocked()
}

func (r *Room) hasModeratorLocked() bool {
	for _, p := range r.clients {
		if p.CanModerate() {
			return true
		}
	}
	return false
}

func (r *Room) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Room) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients) == 0
}

func (r *Room) Participants() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Participant, 0, len(r.clients))
	for _, p := range r.clients {
		out = append(out, p)
	}
	return out
}

// Enqueue puts a client into the waiting room, keyed by userKey.
func (r *Room) Enqueue(pc *PendingClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[pc.Key] = pc
	log.Info().Str("module", "core.room").Str("room", string(r.meta.ID)).
		Str("user", string(pc.UserID)).Msg("client enqueued")
}

// Dequeue removes and returns the waiting-room entry for key, if any.
func (r *Room) Dequeue(key domain.UserKey) (*PendingClient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pc, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	return pc, ok
}

// RemovePending removes the waiting-room entry for key only if it still
// belongs to the given socket. An entry superseded by a newer socket's
// re-enqueue reports false and mutates nothing, same as RemoveClient.
func (r *Room) RemovePending(key domain.UserKey, sig SignalConnection) (*PendingClient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pc, ok := r.pending[key]
	if !ok || pc.Signal != sig {
		return nil, false
	}
	delete(r.pending, key)
	return pc, true
}

func (r *Room) Pending(key domain.UserKey) (*PendingClient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pc, ok := r.pending[key]
	return pc, ok
}

func (r *Room) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Room) PendingSnapshot() []PendingInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingInfo, 0, len(r.pending))
	for _, pc := range r.pending {
		out = append(out, PendingInfo{UserID: pc.UserID, Key: pc.Key, DisplayName: pc.DisplayName})
	}
	return out
}

func (r *Room) PendingSignals() []SignalConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SignalConnection, 0, len(r.pending))
	for _, pc := range r.pending {
		out = append(out, pc.Signal)
	}
	return out
}

// MarkAdmitted records that key passed admission. Sticky across reconnects.
func (r *Room) MarkAdmitted(key domain.UserKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admitted[key] = true
}

func (r *Room) WasAdmitted(key domain.UserKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admitted[key]
}

// OverrideName records a display-name override for id. A forced override
// wins over any later non-forced value.
func (r *Room) OverrideName(id domain.UserID, name string, forced bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.overrides[id]; ok && cur.forced && !forced {
		return false
	}
	r.overrides[id] = nameOverride{name: name, forced: forced}
	return true
}

// ResolveName applies any override for id over the given fallback.
func (r *Room) ResolveName(id domain.UserID, fallback string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.overrides[id]; ok {
		return o.name
	}
	return fallback
}

// NameSnapshot returns the display-name map of active participants.
// Ghosts appear only when the requester is a ghost itself.
func (r *Room) NameSnapshot(includeGhosts bool) map[domain.UserID]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.UserID]string, len(r.clients))
	for id, p := range r.clients {
		if p.Ghost() && !includeGhosts {
			continue
		}
		name := p.DisplayName()
		if o, ok := r.overrides[id]; ok {
			name = o.name
		}
		out[id] = name
	}
	return out
}

// GhostRoster lists the ghosts already in the room. Join broadcasts for
// ghosts never reach late joiners, so new ghosts get this directly.
func (r *Room) GhostRoster() []MemberInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MemberInfo, 0)
	for id, p := range r.clients {
		if !p.Ghost() {
			continue
		}
		name := p.DisplayName()
		if o, ok := r.overrides[id]; ok {
			name = o.name
		}
		out = append(out, MemberInfo{ID: id, DisplayName: name, Ghost: true})
	}
	return out
}

func (r *Room) SetHand(id domain.UserID, raised bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if raised {
		r.hands[id] = true
	} else {
		delete(r.hands, id)
	}
}

func (r *Room) Hands() []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.UserID, 0, len(r.hands))
	for id := range r.hands {
		out = append(out, id)
	}
	return out
}

func (r *Room) AddProducer(pi ProducerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[pi.ID] = pi
}

func (r *Room) RemoveProducer(id string) (ProducerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pi, ok := r.producers[id]
	if ok {
		delete(r.producers, id)
	}
	return pi, ok
}

func (r *Room) Producers() []ProducerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProducerInfo, 0, len(r.producers))
	for _, pi := range r.producers {
		out = append(out, pi)
	}
	return out
}

func (r *Room) ProducersOwnedBy(id domain.UserID) []ProducerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProducerInfo, 0)
	for _, pi := range r.producers {
		if pi.Owner == id {
			out = append(out, pi)
		}
	}
	return out
}

// SetQuality stores the current media-quality directive, reporting whether
// it changed.
func (r *Room) SetQuality(q string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quality == q {
		return false
	}
	r.quality = q
	return true
}

func (r *Room) Quality() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quality
}

// ArmCleanup schedules fire after d, replacing any armed timer. Safe to call
// repeatedly; the fire callback must re-check room state itself.
func (r *Room) ArmCleanup(d time.Duration, fire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelCleanupLocked()
	r.cleanup = time.AfterFunc(d, fire)
	log.Info().Str("module", "core.room").Str("room", string(r.meta.ID)).
		Dur("grace", d).Msg("cleanup timer armed")
}

// CancelCleanup disarms the timer. Safe to double-cancel.
func (r *Room) CancelCleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelCleanupLocked()
}

func (r *Room) cancelCleanupLocked() {
	if r.cleanup != nil {
		r.cleanup.Stop()
		r.cleanup = nil
	}
}

func (r *Room) CleanupArmed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanup != nil
}

// BroadcastAll fans v out to every participant except the given one.
func (r *Room) BroadcastAll(except Participant, v any) {
	r.broadcast(except, v, func(Participant) bool { return true })
}

// BroadcastGhosts fans v out to ghost participants only.
func (r *Room) BroadcastGhosts(except Participant, v any) {
	r.broadcast(except, v, func(p Participant) bool { return p.Ghost() })
}

// BroadcastModerators fans v out to moderators only.
func (r *Room) BroadcastModerators(v any) {
	r.broadcast(nil, v, func(p Participant) bool { return p.CanModerate() })
}

func (r *Room) broadcast(except Participant, v any, want func(Participant) bool) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Msg("broadcast marshal")
		return
	}

	r.mu.Lock()
	targets := make([]Participant, 0, len(r.clients))
	for _, p := range r.clients {
		if p == except || !want(p) {
			continue
		}
		targets = append(targets, p)
	}
	r.mu.Unlock()

	sent := 0
	for _, p := range targets {
		if err := p.Signal().TrySend(b); err == nil {
			sent++
		}
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.meta.ID)).
		Int("sent_to", sent).Msg("broadcast result")
}
