package http

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/app"
	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/transcribe"
)

// MinutesHandler serves the minutes-generation flow: it renders a document
// from the channel's live or cached transcript. Shared-secret header auth;
// this endpoint is only called service-to-service.
type MinutesHandler struct {
	Rooms        *app.RoomRegistry
	Transcribers *transcribe.Registry
	Secret       string
}

type minutesRequest struct {
	RoomID   string `json:"roomId" binding:"required"`
	ClientID string `json:"clientId"`
}

func (h *MinutesHandler) Handle(c *gin.Context) {
	got := c.GetHeader("X-Minutes-Secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "bad secret"})
		return
	}

	var req minutesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad payload"})
		return
	}

	channelID := h.channelFor(req)
	chunks := h.Transcribers.Transcript(channelID)
	log.Info().Str("module", "adapters.http").Str("channel", string(channelID)).
		Int("chunks", len(chunks)).Msg("minutes requested")

	c.JSON(http.StatusOK, gin.H{
		"roomId":   req.RoomID,
		"document": renderDocument(req.RoomID, chunks),
	})
}

// channelFor prefers the live room's channel id; a room that is already
// destroyed falls back to the deterministic tenant-scoped form.
func (h *MinutesHandler) channelFor(req minutesRequest) domain.ChannelID {
	if room, ok := h.Rooms.Get(domain.RoomID(req.RoomID)); ok {
		return room.Meta().ChannelID
	}
	if req.ClientID == "" {
		return domain.ChannelID(req.RoomID)
	}
	return domain.ChannelID(req.ClientID + "/" + req.RoomID)
}

func renderDocument(roomID string, chunks []domain.TranscriptChunk) string {
	if len(chunks) == 0 {
		return fmt.Sprintf("Meeting %s: no transcript was available.", roomID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Meeting %s transcript\n\n", roomID)
	for _, ch := range chunks {
		ts := time.UnixMilli(ch.StartMs).UTC().Format("15:04:05")
		fmt.Fprintf(&b, "[%s] %s: %s\n", ts, ch.Speaker, ch.Text)
	}
	return b.String()
}
