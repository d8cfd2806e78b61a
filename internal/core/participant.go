package core

import (
	"sync"

	"github.com/huddlekit/huddle/internal/domain"
)

// Participant is a registered member of a room. Moderation rights are a
// capability, not a subtype check: callers ask CanModerate(), never the
// concrete type.
type Participant interface {
	ID() domain.UserID
	Key() domain.UserKey
	DisplayName() string
	Rename(string)
	// Ghost reports invisible participation. Only moderators can be ghosts.
	Ghost() bool
	CanModerate() bool
	Signal() SignalConnection
}

type attendee struct {
	id  domain.UserID
	key domain.UserKey
	sig SignalConnection

	mu   sync.RWMutex
	name string
}

func NewAttendee(id domain.UserID, key domain.UserKey, name string, sig SignalConnection) Participant {
	return &attendee{id: id, key: key, name: name, sig: sig}
}

func (a *attendee) ID() domain.UserID        { return a.id }
func (a *attendee) Key() domain.UserKey      { return a.key }
func (a *attendee) Ghost() bool              { return false }
func (a *attendee) CanModerate() bool        { return false }
func (a *attendee) Signal() SignalConnection { return a.sig }

func (a *attendee) DisplayName() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.name
}

func (a *attendee) Rename(name string) {
	a.mu.Lock()
	a.name = name
	a.mu.Unlock()
}

type moderator struct {
	attendee
	ghost bool
}

func NewModerator(id domain.UserID, key domain.UserKey, name string, ghost bool, sig SignalConnection) Participant {
	return &moderator{
		attendee: attendee{id: id, key: key, name: name, sig: sig},
		ghost:    ghost,
	}
}

func (m *moderator) Ghost() bool       { return m.ghost }
func (m *moderator) CanModerate() bool { return true }
