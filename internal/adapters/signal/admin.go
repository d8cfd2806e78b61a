package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/huddlekit/huddle/internal/app"
	"github.com/huddlekit/huddle/internal/app/orch"
	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
)

// actor resolves the socket's active handle for moderation calls.
func (ctl *SignalWSController) actor(cc *app.ConnContext, conn *WsSignalConn) (domain.RoomID, core.Participant, bool) {
	roomID, p, ok := cc.Active()
	if !ok {
		ctl.sendError(conn, "not_in_room")
		return "", nil, false
	}
	return roomID, p, true
}

func (ctl *SignalWSController) reportModErr(conn *WsSignalConn, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, orch.ErrNotAllowed) {
		ctl.sendError(conn, "not_allowed")
		return
	}
	ctl.sendError(conn, "action_failed")
}

func (ctl *SignalWSController) handleAdmit(cc *app.ConnContext, conn *WsSignalConn, data []byte) {
	type payload struct {
		Type    string `json:"type"`
		UserKey string `json:"userKey"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	roomID, actor, ok := ctl.actor(cc, conn)
	if !ok {
		return
	}
	ctl.reportModErr(conn, ctl.Orch.AdmitPending(actor, roomID, domain.UserKey(p.UserKey)))
}

func (ctl *SignalWSController) handleReject(cc *app.ConnContext, conn *WsSignalConn, data []byte) {
	type payload struct {
		Type    string `json:"type"`
		UserKey string `json:"userKey"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	roomID, actor, ok := ctl.actor(cc, conn)
	if !ok {
		return
	}
	ctl.reportModErr(conn, ctl.Orch.RejectPending(actor, roomID, domain.UserKey(p.UserKey)))
}

func (ctl *SignalWSController) handlePromote(cc *app.ConnContext, conn *WsSignalConn, data []byte) {
	type payload struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	roomID, actor, ok := ctl.actor(cc, conn)
	if !ok {
		return
	}
	ctl.reportModErr(conn, ctl.Orch.Promote(actor, roomID, domain.UserID(p.UserID)))
}

func (ctl *SignalWSController) handleSetDraining(cc *app.ConnContext, conn *WsSignalConn, data []byte) {
	type payload struct {
		Type string `json:"type"`
		On   bool   `json:"on"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	_, actor, ok := ctl.actor(cc, conn)
	if !ok {
		return
	}
	ctl.reportModErr(conn, ctl.Orch.SetDraining(actor, p.On))
}

func (ctl *SignalWSController) handleCloseProducer(cc *app.ConnContext, conn *WsSignalConn, data []byte) {
	type payload struct {
		Type       string `json:"type"`
		ProducerID string `json:"producerId"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	roomID, actor, ok := ctl.actor(cc, conn)
	if !ok {
		return
	}
	ctl.reportModErr(conn, ctl.Orch.CloseProducer(actor, roomID, p.ProducerID))
}

func (ctl *SignalWSController) handleStartTranscription(ctx context.Context, cc *app.ConnContext, conn *WsSignalConn, data []byte) {
	type payload struct {
		Type       string `json:"type"`
		ProducerID string `json:"producerId"`
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	roomID, actor, ok := ctl.actor(cc, conn)
	if !ok {
		return
	}
	ctl.reportModErr(conn, ctl.Orch.StartTranscription(ctx, actor, roomID, p.ProducerID))
}

func (ctl *SignalWSController) handleStopTranscription(cc *app.ConnContext, conn *WsSignalConn) {
	roomID, actor, ok := ctl.actor(cc, conn)
	if !ok {
		return
	}
	ctl.reportModErr(conn, ctl.Orch.StopTranscription(actor, roomID))
}
