package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlekit/huddle/internal/app"
	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/media"
	"github.com/huddlekit/huddle/internal/transcribe"
)

const orchSecret = "orch-test-secret"

type fakeSig struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (f *fakeSig) TrySend(b core.Frame) error {
	f.mu.Lock()
	f.frames = append(f.frames, b)
	f.mu.Unlock()
	return nil
}

func (f *fakeSig) Close() {}

// events returns the decoded envelopes received so far.
func (f *fakeSig) events() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]any
		if err := json.Unmarshal(fr, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSig) eventTypes() []string {
	evs := f.events()
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		t, _ := e["type"].(string)
		out = append(out, t)
	}
	return out
}

func (f *fakeSig) last(eventType string) (map[string]any, bool) {
	evs := f.events()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i]["type"] == eventType {
			return evs[i], true
		}
	}
	return nil, false
}

type fakeEngine struct{}

func (fakeEngine) CreatePlainConsumer(ctx context.Context, producerID string) (media.Consumer, error) {
	return nil, errors.New("no media in tests")
}

func (fakeEngine) Capabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":[]}`)
}

func newTestOrch() *Orchestrator {
	return &Orchestrator{
		Identity:        app.NewIdentityResolver(orchSecret),
		Registry:        app.NewRegistry(),
		Rooms:           app.NewRoomRegistry(),
		Policy:          app.SimpleQualityPolicy{},
		Media:           fakeEngine{},
		Transcribers:    transcribe.NewRegistry(transcribe.Config{}, fakeEngine{}),
		CleanupGrace:    25 * time.Millisecond,
		AllowGuestRooms: true,
	}
}

func token(t *testing.T, sub string, admin bool) string {
	t.Helper()
	claims := app.Claims{
		Admin:            admin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(orchSecret))
	require.NoError(t, err)
	return s
}

func connect(o *Orchestrator, sid string) (*app.ConnContext, *fakeSig) {
	sig := &fakeSig{}
	cc := o.Registry.Bind(domain.SessionID(sid), sig, nil)
	return cc, sig
}

func join(t *testing.T, o *Orchestrator, cc *app.ConnContext, req JoinRequest) *JoinResult {
	t.Helper()
	res, err := o.JoinRoom(cc, req)
	require.NoError(t, err)
	return res
}

func TestAttendeeWaitsWithoutAdmin(t *testing.T) {
	o := newTestOrch()
	cc, _ := connect(o, "s-1")

	res := join(t, o, cc, JoinRequest{RoomID: "r", Token: token(t, "u-1", false)})
	assert.Equal(t, StatusWaiting, res.Status)
	assert.True(t, res.NoAdmin)
	assert.NotEmpty(t, res.Capabilities)

	room, ok := o.Rooms.Get("r")
	require.True(t, ok)
	assert.Equal(t, 1, room.PendingCount())
	assert.Equal(t, 0, room.ActiveCount())
}

func TestAdmitFlow(t *testing.T) {
	o := newTestOrch()
	adminCC, adminSig := connect(o, "s-admin")
	join(t, o, adminCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})

	userCC, userSig := connect(o, "s-user")
	res := join(t, o, userCC, JoinRequest{RoomID: "r", Token: token(t, "u-1", false)})
	assert.Equal(t, StatusWaiting, res.Status)
	assert.False(t, res.NoAdmin)

	// The moderator hears about the waiting client.
	ev, ok := adminSig.last(evUserRequestedJoin)
	require.True(t, ok)
	user := ev["user"].(map[string]any)
	assert.Equal(t, "u-1", user["userId"])

	_, adminP, ok := adminCC.Active()
	require.True(t, ok)
	require.NoError(t, o.AdmitPending(adminP, "r", "u-1"))

	// Waiting client is told to come back in.
	ev, ok = userSig.last(evWaitingRoomStatus)
	require.True(t, ok)
	assert.Equal(t, StatusAdmitted, ev["status"])

	// Admission stickiness lets the rejoin straight through.
	res = join(t, o, userCC, JoinRequest{RoomID: "r", Token: token(t, "u-1", false)})
	assert.Equal(t, "joined", res.Status)

	ev, ok = adminSig.last(evUserJoined)
	require.True(t, ok)
	assert.Equal(t, "u-1", ev["user"].(map[string]any)["id"])
}

func TestRejectFlow(t *testing.T) {
	o := newTestOrch()
	adminCC, _ := connect(o, "s-admin")
	join(t, o, adminCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})

	userCC, userSig := connect(o, "s-user")
	join(t, o, userCC, JoinRequest{RoomID: "r", Token: token(t, "u-1", false)})

	_, adminP, _ := adminCC.Active()
	require.NoError(t, o.RejectPending(adminP, "r", "u-1"))

	ev, ok := userSig.last(evWaitingRoomStatus)
	require.True(t, ok)
	assert.Equal(t, StatusRejected, ev["status"])

	// A rejected user is not admitted; rejoining waits again.
	res := join(t, o, userCC, JoinRequest{RoomID: "r", Token: token(t, "u-1", false)})
	assert.Equal(t, StatusWaiting, res.Status)
}

func TestAdmitRequiresModerator(t *testing.T) {
	o := newTestOrch()
	att := core.NewAttendee("u-1", "u-1", "Alice", &fakeSig{})
	assert.ErrorIs(t, o.AdmitPending(att, "r", "k"), ErrNotAllowed)
	assert.ErrorIs(t, o.RejectPending(att, "r", "k"), ErrNotAllowed)
	assert.ErrorIs(t, o.Promote(att, "r", "u-2"), ErrNotAllowed)
	assert.ErrorIs(t, o.SetDraining(att, true), ErrNotAllowed)
}

func TestGuestRoomCreationGate(t *testing.T) {
	o := newTestOrch()
	o.AllowGuestRooms = false

	cc, _ := connect(o, "s-1")
	_, err := o.JoinRoom(cc, JoinRequest{RoomID: "r", Token: token(t, "u-1", false)})
	assert.ErrorIs(t, err, app.ErrAdmissionDenied)

	// Admins can always open a room.
	adminCC, _ := connect(o, "s-2")
	res := join(t, o, adminCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})
	assert.Equal(t, "joined", res.Status)
}

func TestDrainingRefusesNewRooms(t *testing.T) {
	o := newTestOrch()
	adminCC, _ := connect(o, "s-admin")
	join(t, o, adminCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})

	require.NoError(t, o.SetDraining(nil, true))

	// Existing rooms stay reachable while draining.
	otherCC, _ := connect(o, "s-2")
	res := join(t, o, otherCC, JoinRequest{RoomID: "r", Token: token(t, "u-2", true)})
	assert.Equal(t, "joined", res.Status)

	// New rooms are refused.
	thirdCC, _ := connect(o, "s-3")
	_, err := o.JoinRoom(thirdCC, JoinRequest{RoomID: "r-new", Token: token(t, "u-3", true)})
	assert.ErrorIs(t, err, app.ErrAdmissionDenied)
}

func TestStaleDisconnectDoesNotEvictNewerSession(t *testing.T) {
	o := newTestOrch()
	oldCC, _ := connect(o, "s-old")
	join(t, o, oldCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})

	observerCC, observerSig := connect(o, "s-obs")
	join(t, o, observerCC, JoinRequest{RoomID: "r", Token: token(t, "u-obs", true)})

	// Same user reconnects on a new socket before the old one noticed.
	newCC, _ := connect(o, "s-new")
	join(t, o, newCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})

	_, newP, ok := newCC.Active()
	require.True(t, ok)

	o.OnDisconnect(oldCC)

	room, ok := o.Rooms.Get("r")
	require.True(t, ok)
	cur, ok := room.Client("u-admin")
	require.True(t, ok, "user must survive the stale disconnect")
	assert.Same(t, newP, cur)

	// Nobody was told the user left.
	assert.NotContains(t, observerSig.eventTypes(), evUserLeft)
	assert.False(t, room.CleanupArmed())
}

func TestGhostInvisibleToNonGhosts(t *testing.T) {
	o := newTestOrch()
	adminCC, adminSig := connect(o, "s-admin")
	join(t, o, adminCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})

	ghostCC, ghostSig := connect(o, "s-ghost")
	res := join(t, o, ghostCC, JoinRequest{RoomID: "r", Token: token(t, "u-ghost", true), Ghost: true})
	assert.Equal(t, "joined", res.Status)

	// The ghost sees everyone; the room does not see the ghost.
	assert.Contains(t, res.Names, domain.UserID("u-admin"))
	assert.Contains(t, res.Names, domain.UserID("u-ghost"))
	assert.NotContains(t, adminSig.eventTypes(), evUserJoined)

	// A second ghost receives the first ghost's roster and join events.
	ghost2CC, _ := connect(o, "s-ghost2")
	res2 := join(t, o, ghost2CC, JoinRequest{RoomID: "r", Token: token(t, "u-ghost2", true), Ghost: true})
	rosterIDs := make([]domain.UserID, 0, len(res2.Ghosts))
	for _, m := range res2.Ghosts {
		rosterIDs = append(rosterIDs, m.ID)
	}
	assert.Contains(t, rosterIDs, domain.UserID("u-ghost"))
	ev, ok := ghostSig.last(evUserJoined)
	require.True(t, ok)
	assert.Equal(t, "u-ghost2", ev["user"].(map[string]any)["id"])

	// Ghost departure is equally invisible.
	o.Leave(ghostCC)
	assert.NotContains(t, adminSig.eventTypes(), evUserLeft)
}

func TestGhostFlagIgnoredForAttendees(t *testing.T) {
	o := newTestOrch()
	adminCC, _ := connect(o, "s-admin")
	join(t, o, adminCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})

	room, _ := o.Rooms.Get("r")
	room.MarkAdmitted("u-1")

	userCC, _ := connect(o, "s-user")
	join(t, o, userCC, JoinRequest{RoomID: "r", Token: token(t, "u-1", false), Ghost: true})

	p, ok := room.Client("u-1")
	require.True(t, ok)
	assert.False(t, p.Ghost())
}

func TestCleanupDestroysAbandonedRoom(t *testing.T) {
	o := newTestOrch()
	adminCC, _ := connect(o, "s-admin")
	join(t, o, adminCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})

	room, _ := o.Rooms.Get("r")
	room.MarkAdmitted("u-1")
	userCC, _ := connect(o, "s-user")
	join(t, o, userCC, JoinRequest{RoomID: "r", Token: token(t, "u-1", false)})

	waitingCC, waitingSig := connect(o, "s-wait")
	join(t, o, waitingCC, JoinRequest{RoomID: "r", Token: token(t, "u-2", false)})

	o.Leave(adminCC)
	assert.True(t, room.CleanupArmed())

	// Waiting clients learn there is nobody left to admit them.
	ev, ok := waitingSig.last(evWaitingRoomStatus)
	require.True(t, ok)
	assert.Equal(t, StatusNoAdmin, ev["status"])

	// Attendees alone keep the room alive only until the grace expires with
	// the room empty.
	o.Leave(userCC)
	o.Leave(waitingCC)

	assert.Eventually(t, func() bool {
		_, exists := o.Rooms.Get("r")
		return !exists
	}, time.Second, 5*time.Millisecond)
}

func TestAdminRejoinCancelsCleanup(t *testing.T) {
	o := newTestOrch()
	adminCC, _ := connect(o, "s-admin")
	join(t, o, adminCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})

	o.Leave(adminCC)
	room, ok := o.Rooms.Get("r")
	require.True(t, ok)
	require.True(t, room.CleanupArmed())

	join(t, o, adminCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})
	assert.False(t, room.CleanupArmed())

	time.Sleep(4 * o.CleanupGrace)
	_, ok = o.Rooms.Get("r")
	assert.True(t, ok, "room must survive when a moderator rejoined in time")
}

func TestPromoteGrantsModeration(t *testing.T) {
	o := newTestOrch()
	adminCC, _ := connect(o, "s-admin")
	join(t, o, adminCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})

	room, _ := o.Rooms.Get("r")
	room.MarkAdmitted("u-1")
	userCC, userSig := connect(o, "s-user")
	join(t, o, userCC, JoinRequest{RoomID: "r", Token: token(t, "u-1", false)})

	_, adminP, _ := adminCC.Active()
	require.NoError(t, o.Promote(adminP, "r", "u-1"))

	p, ok := room.Client("u-1")
	require.True(t, ok)
	assert.True(t, p.CanModerate())

	// The socket's context follows the replaced handle.
	_, ccP, ok := userCC.Active()
	require.True(t, ok)
	assert.Same(t, p, ccP)

	// The fresh co-host gets the waiting-room snapshot.
	assert.Contains(t, userSig.eventTypes(), evPendingUsersSnapshot)

	// Promoting an admin again is a no-op.
	require.NoError(t, o.Promote(adminP, "r", "u-1"))
}

func TestQualityDirectiveFollowsHeadcount(t *testing.T) {
	o := newTestOrch()
	sigs := make([]*fakeSig, 0, 3)
	for i, uid := range []string{"u-1", "u-2", "u-3"} {
		cc, sig := connect(o, "s-"+uid)
		sigs = append(sigs, sig)
		res := join(t, o, cc, JoinRequest{RoomID: "r", Token: token(t, uid, true)})
		if i < 2 {
			assert.Equal(t, "high", res.Quality)
		} else {
			assert.Equal(t, "medium", res.Quality)
		}
	}

	// The surviving members were told to step down when the third joined.
	ev, ok := sigs[0].last(evSetVideoQuality)
	require.True(t, ok)
	assert.Equal(t, "medium", ev["quality"])
}

func TestProducerLifecycle(t *testing.T) {
	o := newTestOrch()
	adminCC, _ := connect(o, "s-admin")
	join(t, o, adminCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})

	otherCC, otherSig := connect(o, "s-other")
	join(t, o, otherCC, JoinRequest{RoomID: "r", Token: token(t, "u-other", true)})

	o.OnProducerReady(context.Background(), adminCC, "p-1", "audio")

	room, _ := o.Rooms.Get("r")
	require.Len(t, room.Producers(), 1)
	ev, ok := otherSig.last(evNewProducer)
	require.True(t, ok)
	assert.Equal(t, "p-1", ev["producer"].(map[string]any)["id"])

	// Leaving closes the member's producers for everyone.
	o.Leave(adminCC)
	assert.Empty(t, room.Producers())
	ev, ok = otherSig.last(evProducerClosed)
	require.True(t, ok)
	assert.Equal(t, "p-1", ev["producerId"])
}

func TestRaiseHand(t *testing.T) {
	o := newTestOrch()
	adminCC, adminSig := connect(o, "s-admin")
	join(t, o, adminCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})

	o.RaiseHand(adminCC, true)
	ev, ok := adminSig.last(evHandRaisedSnapshot)
	require.True(t, ok)
	assert.Equal(t, []any{"u-admin"}, ev["raised"])

	o.RaiseHand(adminCC, false)
	ev, ok = adminSig.last(evHandRaisedSnapshot)
	require.True(t, ok)
	assert.Empty(t, ev["raised"])
}

func TestAdminDisplayNameOverrideSticks(t *testing.T) {
	o := newTestOrch()
	adminCC, _ := connect(o, "s-admin")
	join(t, o, adminCC, JoinRequest{
		RoomID: "r", Token: token(t, "u-admin", true), DisplayName: "The Host",
	})

	room, _ := o.Rooms.Get("r")
	assert.Equal(t, "The Host", room.ResolveName("u-admin", "whatever"))

	// Rejoining without an override keeps the forced name.
	res := join(t, o, adminCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})
	assert.Equal(t, "The Host", res.Names["u-admin"])
}

func TestSwitchingRoomsLeavesOldRoom(t *testing.T) {
	o := newTestOrch()
	adminCC, _ := connect(o, "s-admin")
	join(t, o, adminCC, JoinRequest{RoomID: "r-1", Token: token(t, "u-admin", true)})

	observerCC, observerSig := connect(o, "s-obs")
	join(t, o, observerCC, JoinRequest{RoomID: "r-1", Token: token(t, "u-obs", true)})

	join(t, o, adminCC, JoinRequest{RoomID: "r-2", Token: token(t, "u-admin", true)})

	room1, _ := o.Rooms.Get("r-1")
	_, stillThere := room1.Client("u-admin")
	assert.False(t, stillThere)
	assert.Contains(t, observerSig.eventTypes(), evUserLeft)

	roomID, _, ok := adminCC.Active()
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("r-2"), roomID)
}

func TestStalePendingDisconnectKeepsNewerEntry(t *testing.T) {
	o := newTestOrch()
	adminCC, adminSig := connect(o, "s-admin")
	join(t, o, adminCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})

	oldCC, _ := connect(o, "s-old")
	join(t, o, oldCC, JoinRequest{RoomID: "r", Token: token(t, "u-1", false)})

	// Same user re-requests admission on a new socket before the old one
	// noticed it was gone.
	newCC, _ := connect(o, "s-new")
	join(t, o, newCC, JoinRequest{RoomID: "r", Token: token(t, "u-1", false)})

	room, _ := o.Rooms.Get("r")
	require.Equal(t, 1, room.PendingCount())

	o.OnDisconnect(oldCC)

	assert.Equal(t, 1, room.PendingCount(), "newer waiting entry must survive the stale disconnect")
	assert.NotContains(t, adminSig.eventTypes(), evPendingUserLeft)

	// The live socket's disconnect still cleans up and tells the admins.
	o.OnDisconnect(newCC)
	assert.Equal(t, 0, room.PendingCount())
	assert.Contains(t, adminSig.eventTypes(), evPendingUserLeft)
}

func TestJoiningAnotherRoomAbandonsWaitingSpot(t *testing.T) {
	o := newTestOrch()
	adminCC, adminSig := connect(o, "s-admin")
	join(t, o, adminCC, JoinRequest{RoomID: "r-a", Token: token(t, "u-admin", true)})

	userCC, _ := connect(o, "s-user")
	join(t, o, userCC, JoinRequest{RoomID: "r-a", Token: token(t, "u-1", false)})

	roomA, _ := o.Rooms.Get("r-a")
	require.Equal(t, 1, roomA.PendingCount())

	join(t, o, userCC, JoinRequest{RoomID: "r-b", Token: token(t, "u-1", false)})

	assert.Equal(t, 0, roomA.PendingCount(), "old room must not keep a phantom requester")
	assert.Contains(t, adminSig.eventTypes(), evPendingUserLeft)

	roomB, ok := o.Rooms.Get("r-b")
	require.True(t, ok)
	assert.Equal(t, 1, roomB.PendingCount())
	roomID, _, pending := userCC.PendingIn()
	require.True(t, pending)
	assert.Equal(t, domain.RoomID("r-b"), roomID)
}

func TestGuestCreatedRoomExpiresWithoutAdmin(t *testing.T) {
	o := newTestOrch()
	userCC, _ := connect(o, "s-user")
	join(t, o, userCC, JoinRequest{RoomID: "r", Token: token(t, "u-1", false)})

	room, ok := o.Rooms.Get("r")
	require.True(t, ok)
	assert.True(t, room.CleanupArmed(), "admin-less room must start its grace timer at creation")

	o.OnDisconnect(userCC)

	assert.Eventually(t, func() bool {
		_, exists := o.Rooms.Get("r")
		return !exists
	}, time.Second, 5*time.Millisecond)
}

func TestAdminJoinDisarmsGuestRoomTimer(t *testing.T) {
	o := newTestOrch()
	userCC, _ := connect(o, "s-user")
	join(t, o, userCC, JoinRequest{RoomID: "r", Token: token(t, "u-1", false)})

	adminCC, _ := connect(o, "s-admin")
	join(t, o, adminCC, JoinRequest{RoomID: "r", Token: token(t, "u-admin", true)})

	room, ok := o.Rooms.Get("r")
	require.True(t, ok)
	assert.False(t, room.CleanupArmed())

	time.Sleep(4 * o.CleanupGrace)
	_, ok = o.Rooms.Get("r")
	assert.True(t, ok)
}

func TestJoinAuthFailure(t *testing.T) {
	o := newTestOrch()
	cc, _ := connect(o, "s-1")
	_, err := o.JoinRoom(cc, JoinRequest{RoomID: "r", Token: "garbage"})
	assert.ErrorIs(t, err, app.ErrAuthentication)
	_, exists := o.Rooms.Get("r")
	assert.False(t, exists, "failed join must not create the room")
}
