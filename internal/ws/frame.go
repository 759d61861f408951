package ws

import (
	"encoding/json"
	"errors"
)

// Frame types as they appear in the wire "type" field.
const (
	TypeIdentify            = "identify"
	TypeOnlineUsers         = "online-users"
	TypePrivateMessage      = "private-message"
	TypeTyping              = "typing"
	TypeStopTyping          = "stop-typing"
	TypeDeleteForEveryone   = "delete-message-for-everyone"
	TypeAccountDeleted      = "account-deleted"
	TypeFriendProfileUpdate = "friend-profile-update"
	TypeProfileUpdate       = "profile-update"
	TypeForceLogout         = "force-logout"
)

// Frame is one JSON-encoded realtime event. Inbound frames decode into one
// of the concrete types below; handlers switch exhaustively with an
// unknown/ignore default.
type Frame interface {
	FrameType() string
}

// ErrUnknownFrame marks a well-formed frame whose type the client does not
// handle. Callers ignore it.
var ErrUnknownFrame = errors.New("unknown frame type")

// IdentifyFrame announces the logged-in identity right after connect.
type IdentifyFrame struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (f *IdentifyFrame) FrameType() string { return TypeIdentify }

// OnlineUser is one entry in an online-users broadcast.
type OnlineUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// OnlineUsersFrame replaces the full presence set.
type OnlineUsersFrame struct {
	Type  string       `json:"type"`
	Users []OnlineUser `json:"users"`
}

func (f *OnlineUsersFrame) FrameType() string { return TypeOnlineUsers }

// PrivateMessageFrame carries one chat message. Inbound frames fill the
// From fields and Time; outbound frames fill ToUserID and the payload.
// File holds inline base64 bytes for online transfer, FileURL a remote
// reference for offline delivery; at most one is set.
type PrivateMessageFrame struct {
	Type         string `json:"type"`
	FromUserID   string `json:"fromUserId,omitempty"`
	FromUsername string `json:"fromUsername,omitempty"`
	ToUserID     string `json:"toUserId,omitempty"`
	Message      string `json:"message"`
	Time         string `json:"time,omitempty"`
	File         string `json:"file,omitempty"`
	FileURL      string `json:"fileUrl,omitempty"`
	Filename     string `json:"filename,omitempty"`
	FileType     string `json:"fileType,omitempty"`
}

func (f *PrivateMessageFrame) FrameType() string { return TypePrivateMessage }

// TypingFrame signals typing start/stop; Type distinguishes the two.
type TypingFrame struct {
	Type       string `json:"type"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	Username   string `json:"username"`
}

func (f *TypingFrame) FrameType() string { return f.Type }

// DeleteForEveryoneFrame removes the listed timestamps from a conversation
// on both sides.
type DeleteForEveryoneFrame struct {
	Type       string   `json:"type"`
	ChatKey    string   `json:"chatKey"`
	Timestamps []string `json:"timestamps"`
}

func (f *DeleteForEveryoneFrame) FrameType() string { return TypeDeleteForEveryone }

// AccountDeletedFrame announces that a peer deleted their account.
type AccountDeletedFrame struct {
	Type          string `json:"type"`
	DeletedUserID string `json:"deletedUserId"`
}

func (f *AccountDeletedFrame) FrameType() string { return TypeAccountDeleted }

// ProfileUpdateFrame carries a display-name change for a user. The server
// sends friend-profile-update to friends and profile-update to open
// conversations; both rewrite the cached name, the latter also rewrites
// message history.
type ProfileUpdateFrame struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (f *ProfileUpdateFrame) FrameType() string { return f.Type }

// ForceLogoutFrame is a server-initiated logout (login from elsewhere).
type ForceLogoutFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

func (f *ForceLogoutFrame) FrameType() string { return TypeForceLogout }

// Decode parses one inbound frame. Returns the concrete frame, or
// ErrUnknownFrame for types the client does not consume, or the JSON error
// for malformed input.
func Decode(data []byte) (Frame, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	var frame Frame
	switch env.Type {
	case TypeOnlineUsers:
		frame = &OnlineUsersFrame{}
	case TypePrivateMessage:
		frame = &PrivateMessageFrame{}
	case TypeTyping, TypeStopTyping:
		frame = &TypingFrame{}
	case TypeDeleteForEveryone:
		frame = &DeleteForEveryoneFrame{}
	case TypeAccountDeleted:
		frame = &AccountDeletedFrame{}
	case TypeFriendProfileUpdate, TypeProfileUpdate:
		frame = &ProfileUpdateFrame{}
	case TypeForceLogout:
		frame = &ForceLogoutFrame{}
	default:
		return nil, ErrUnknownFrame
	}
	if err := json.Unmarshal(data, frame); err != nil {
		return nil, err
	}
	return frame, nil
}
