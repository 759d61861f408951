package bus

import "time"

// Event represents a local change notification published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the daemon. Subscribers filter by namespace
// prefix, e.g. "message." receives every message-related kind.
const (
	KindMessageAppended = "message.appended"
	KindMessageRemoved  = "message.removed"
	KindMessageSendAck  = "message.send_ack"
	KindMessageSendFail = "message.send_failed"

	KindUnreadUpdated = "unread.updated"

	KindFriendUpdated = "friend.updated"
	KindFriendRemoved = "friend.removed"

	KindPresenceOnline = "presence.online_users"
	KindPresenceTyping = "presence.typing"

	KindSessionStatus      = "session.status_changed"
	KindSessionForceLogout = "session.force_logout"
	KindSessionLoggedOut   = "session.logged_out"
)
