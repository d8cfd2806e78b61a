package orch

import (
	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
)

// Socket event names. Fixed for client compatibility; do not rename.
const (
	evUserRequestedJoin    = "userRequestedJoin"
	evWaitingRoomStatus    = "waitingRoomStatus"
	evPendingUsersSnapshot = "pendingUsersSnapshot"
	evPendingUserLeft      = "pendingUserLeft"
	evUserJoined           = "userJoined"
	evUserLeft             = "userLeft"
	evHandRaisedSnapshot   = "handRaisedSnapshot"
	evSetVideoQuality      = "setVideoQuality"
	evNewProducer          = "newProducer"
	evProducerClosed       = "producerClosed"
)

// Waiting-room status values delivered to pending clients.
const (
	StatusWaiting  = "waiting"
	StatusNoAdmin  = "noAdmin"
	StatusAdmitted = "admitted"
	StatusRejected = "rejected"
)

type userJoinedEvent struct {
	Type string          `json:"type"`
	User core.MemberInfo `json:"user"`
}

type userLeftEvent struct {
	Type string          `json:"type"`
	User core.MemberInfo `json:"user"`
}

type userRequestedJoinEvent struct {
	Type string           `json:"type"`
	User core.PendingInfo `json:"user"`
}

type waitingRoomStatusEvent struct {
	Type   string        `json:"type"`
	Status string        `json:"status"`
	RoomID domain.RoomID `json:"roomId"`
}

type pendingUsersSnapshotEvent struct {
	Type    string             `json:"type"`
	Pending []core.PendingInfo `json:"pending"`
}

type pendingUserLeftEvent struct {
	Type string           `json:"type"`
	User core.PendingInfo `json:"user"`
}

type handRaisedSnapshotEvent struct {
	Type   string          `json:"type"`
	Raised []domain.UserID `json:"raised"`
}

type setVideoQualityEvent struct {
	Type    string `json:"type"`
	Quality string `json:"quality"`
}

type newProducerEvent struct {
	Type     string            `json:"type"`
	Producer core.ProducerInfo `json:"producer"`
}

type producerClosedEvent struct {
	Type       string `json:"type"`
	ProducerID string `json:"producerId"`
}
