package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlekit/huddle/internal/app"
	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/transcribe"
)

func newMinutesRouter(secret string) (*gin.Engine, *MinutesHandler) {
	gin.SetMode(gin.TestMode)
	h := &MinutesHandler{
		Rooms:        app.NewRoomRegistry(),
		Transcribers: transcribe.NewRegistry(transcribe.Config{}, nil),
		Secret:       secret,
	}
	r := gin.New()
	r.POST("/api/minutes", h.Handle)
	return r, h
}

func postMinutes(r *gin.Engine, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/minutes", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Minutes-Secret", secret)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMinutesRejectsBadSecret(t *testing.T) {
	r, _ := newMinutesRouter("right")
	w := postMinutes(r, "wrong", `{"roomId":"r-1"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMinutesRejectsBadPayload(t *testing.T) {
	r, _ := newMinutesRouter("s")
	w := postMinutes(r, "s", `{"clientId":"acme"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMinutesEmptyTranscript(t *testing.T) {
	r, _ := newMinutesRouter("s")
	w := postMinutes(r, "s", `{"roomId":"r-1","clientId":"acme"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "no transcript was available")
}

func TestChannelForPrefersLiveRoom(t *testing.T) {
	_, h := newMinutesRouter("s")
	h.Rooms.GetOrCreate(&domain.Room{ID: "r-1", ChannelID: "tenant-x/r-1", ClientID: "tenant-x"})

	assert.Equal(t, domain.ChannelID("tenant-x/r-1"), h.channelFor(minutesRequest{RoomID: "r-1"}))
	// A destroyed room reconstructs the tenant-scoped channel id.
	assert.Equal(t, domain.ChannelID("acme/r-2"), h.channelFor(minutesRequest{RoomID: "r-2", ClientID: "acme"}))
	assert.Equal(t, domain.ChannelID("r-3"), h.channelFor(minutesRequest{RoomID: "r-3"}))
}

func TestRenderDocument(t *testing.T) {
	doc := renderDocument("standup", []domain.TranscriptChunk{
		{StartMs: 1700000000000, EndMs: 1700000002000, Text: "good morning", Speaker: "alice"},
		{StartMs: 1700000003000, EndMs: 1700000004000, Text: "hi all", Speaker: "bob"},
	})
	assert.Contains(t, doc, "Meeting standup transcript")
	assert.Contains(t, doc, "alice: good morning")
	assert.Contains(t, doc, "bob: hi all")
}
