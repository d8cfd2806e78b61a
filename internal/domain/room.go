package domain

type (
	RoomID    string
	ChannelID string
	ClientID  string
)

// Room is the meta-data of a meeting instance. Membership and lifecycle
// live in core; this is only identity.
type Room struct {
	ID        RoomID
	ChannelID ChannelID
	ClientID  ClientID
}
