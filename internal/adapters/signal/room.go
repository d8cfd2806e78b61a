package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/app"
	"github.com/huddlekit/huddle/internal/app/orch"
	"github.com/huddlekit/huddle/internal/domain"
)

func (ctl *SignalWSController) handleJoin(cc *app.ConnContext, conn *WsSignalConn, data []byte) {
	type joinPayload struct {
		Type        string `json:"type"`
		Room        string `json:"room"`
		Token       string `json:"token"`
		SessionID   string `json:"sessionId,omitempty"`
		DisplayName string `json:"displayName,omitempty"`
		Ghost       bool   `json:"ghost,omitempty"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if p.Room == "" {
		ctl.sendError(conn, "missing room")
		return
	}
	if !ctl.Limiter.Allow(cc.SID) {
		ctl.sendError(conn, "rate_limited")
		return
	}

	res, err := ctl.Orch.JoinRoom(cc, orch.JoinRequest{
		RoomID:      domain.RoomID(p.Room),
		Token:       p.Token,
		SessionID:   p.SessionID,
		DisplayName: p.DisplayName,
		Ghost:       p.Ghost,
	})
	if err != nil {
		ctl.sendError(conn, joinErrorCode(err))
		return
	}

	if res.Status == orch.StatusWaiting {
		status := orch.StatusWaiting
		if res.NoAdmin {
			// Nobody around to admit; say so up front.
			status = orch.StatusNoAdmin
		}
		ctl.sendJSON(conn, struct {
			Type         string          `json:"type"`
			Status       string          `json:"status"`
			RoomID       domain.RoomID   `json:"roomId"`
			Capabilities json.RawMessage `json:"capabilities,omitempty"`
		}{"waitingRoomStatus", status, res.RoomID, res.Capabilities})
		return
	}

	ctl.sendJSON(conn, struct {
		Type string           `json:"type"`
		Join *orch.JoinResult `json:"join"`
	}{"roomJoined", res})

	// Snapshots delivered under their fixed event names.
	ctl.sendJSON(conn, struct {
		Type  string                   `json:"type"`
		Names map[domain.UserID]string `json:"names"`
	}{"displayNameSnapshot", res.Names})
	ctl.sendJSON(conn, struct {
		Type   string          `json:"type"`
		Raised []domain.UserID `json:"raised"`
	}{"handRaisedSnapshot", res.Hands})
	ctl.sendJSON(conn, struct {
		Type    string `json:"type"`
		Quality string `json:"quality"`
	}{"setVideoQuality", res.Quality})
	if res.Pending != nil {
		ctl.sendJSON(conn, struct {
			Type    string `json:"type"`
			Pending any    `json:"pending"`
		}{"pendingUsersSnapshot", res.Pending})
	}
}

func joinErrorCode(err error) string {
	switch {
	case errors.Is(err, app.ErrAuthentication):
		return "auth_failed"
	case errors.Is(err, app.ErrSessionMismatch):
		return "session_mismatch"
	case errors.Is(err, app.ErrAdmissionDenied):
		return "admission_denied"
	default:
		return "join_failed"
	}
}

// handleLeave exits the current room; the socket stays up.
func (ctl *SignalWSController) handleLeave(cc *app.ConnContext, conn *WsSignalConn) {
	log.Info().Str("module", "signal").Str("sid", string(cc.SID)).Msg("leave")
	ctl.Orch.Leave(cc)
	ctl.sendJSON(conn, map[string]any{
		"type": "left",
	})
}

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) handleRaiseHand(cc *app.ConnContext, conn *WsSignalConn, data []byte) {
	type handPayload struct {
		Type   string `json:"type"`
		Raised bool   `json:"raised"`
	}
	var p handPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.Orch.RaiseHand(cc, p.Raised)
}

func (ctl *SignalWSController) handleNewProducer(ctx context.Context, cc *app.ConnContext, conn *WsSignalConn, data []byte) {
	type producerPayload struct {
		Type       string `json:"type"`
		ProducerID string `json:"producerId"`
		Kind       string `json:"kind"`
	}
	var p producerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if p.ProducerID == "" {
		p.ProducerID = uuid.NewString()
	}
	if p.Kind == "" {
		p.Kind = "audio"
	}
	ctl.Orch.OnProducerReady(ctx, cc, p.ProducerID, p.Kind)
}

func (ctl *SignalWSController) handleProducerClosed(cc *app.ConnContext, data []byte) {
	type producerPayload struct {
		Type       string `json:"type"`
		ProducerID string `json:"producerId"`
	}
	var p producerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	ctl.Orch.OnProducerClosed(cc, p.ProducerID)
}
