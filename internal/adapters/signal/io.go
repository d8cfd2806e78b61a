package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/app"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cc *app.ConnContext, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(cc.SID)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(cc)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(cc.SID)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(cc.SID)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(ctx, cc, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, cc *app.ConnContext, c *WsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(cc, c, data)
	case "leave":
		ctl.handleLeave(cc, c)
	case "ping":
		ctl.handlePing(c)
	case "raiseHand":
		ctl.handleRaiseHand(cc, c, data)
	case "newProducer":
		ctl.handleNewProducer(ctx, cc, c, data)
	case "producerClosed":
		ctl.handleProducerClosed(cc, data)
	case "admitUser":
		ctl.handleAdmit(cc, c, data)
	case "rejectUser":
		ctl.handleReject(cc, c, data)
	case "promote":
		ctl.handlePromote(cc, c, data)
	case "setDraining":
		ctl.handleSetDraining(cc, c, data)
	case "closeProducer":
		ctl.handleCloseProducer(cc, c, data)
	case "startTranscription":
		ctl.handleStartTranscription(ctx, cc, c, data)
	case "stopTranscription":
		ctl.handleStopTranscription(cc, c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, code string) {
	ctl.sendJSON(c, map[string]any{
		"type":  "error",
		"error": code,
	})
}
