package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashim-i222478/chatlink/internal/bus"
	"github.com/hashim-i222478/chatlink/internal/store"
	"github.com/hashim-i222478/chatlink/internal/ws"
	"go.uber.org/zap"
)

// Guard answers whether a connection epoch is still live. Mutations and
// async completions belonging to a torn-down connection are discarded.
type Guard interface {
	Alive(epoch int64) bool
}

// ProfileBackfiller resolves profile details over REST that frames do not
// carry: a missing sender name, or the avatar after a profile change.
// Failures degrade to the raw identifier / stale picture, never block frame
// processing.
type ProfileBackfiller interface {
	UsernameByID(ctx context.Context, userID string) (string, error)
	ProfilePicByID(ctx context.Context, userID string) (string, error)
}

// Dispatcher consumes inbound frames one at a time, in transport delivery
// order, and reconciles the local conversation store against them. Every
// store mutation is followed by a bus publish so any number of views can
// refresh; duplicate publishes are tolerated by idempotent refreshes.
type Dispatcher struct {
	db       *store.DB
	bus      *bus.Bus
	guard    Guard
	backfill ProfileBackfiller
	logger   *zap.Logger

	mu     sync.Mutex
	selfID string
	active string // chat key currently open in a frontend, "" if none
	online map[string]ws.OnlineUser
}

// New creates a dispatcher. backfill may be nil (no REST backfill).
func New(db *store.DB, b *bus.Bus, guard Guard, backfill ProfileBackfiller, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		db:       db,
		bus:      b,
		guard:    guard,
		backfill: backfill,
		logger:   logger,
		online:   make(map[string]ws.OnlineUser),
	}
}

// SetIdentity records the logged-in user the frames belong to.
func (d *Dispatcher) SetIdentity(userID string) {
	d.mu.Lock()
	d.selfID = userID
	d.mu.Unlock()
}

// OpenConversation marks a conversation as actively viewed and clears the
// peer's unread counter.
func (d *Dispatcher) OpenConversation(chatKey string) error {
	d.mu.Lock()
	d.active = chatKey
	self := d.selfID
	d.mu.Unlock()

	peer := store.PeerID(chatKey, self)
	if peer == "" {
		return nil
	}
	if err := d.db.ClearUnread(peer); err != nil {
		return err
	}
	d.bus.Publish(bus.KindUnreadUpdated, map[string]any{"peer_id": peer, "count": 0})
	return nil
}

// CloseConversation clears the active mark if it still points at chatKey.
func (d *Dispatcher) CloseConversation(chatKey string) {
	d.mu.Lock()
	if d.active == chatKey {
		d.active = ""
	}
	d.mu.Unlock()
}

// OnlineUsers returns a copy of the current presence set.
func (d *Dispatcher) OnlineUsers() []ws.OnlineUser {
	d.mu.Lock()
	defer d.mu.Unlock()
	users := make([]ws.OnlineUser, 0, len(d.online))
	for _, u := range d.online {
		users = append(users, u)
	}
	return users
}

// IsOnline reports presence for a single user.
func (d *Dispatcher) IsOnline(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.online[userID]
	return ok
}

// ClearPresence empties the presence set (connection gone, presence unknown).
func (d *Dispatcher) ClearPresence() {
	d.mu.Lock()
	d.online = make(map[string]ws.OnlineUser)
	d.mu.Unlock()
	d.bus.Publish(bus.KindPresenceOnline, []ws.OnlineUser{})
}

// Dispatch handles one inbound frame. Runs to completion before the read
// loop delivers the next frame; there is never parallel execution of two
// Dispatch calls for one connection.
func (d *Dispatcher) Dispatch(epoch int64, frame ws.Frame) {
	if !d.guard.Alive(epoch) {
		return
	}

	switch f := frame.(type) {
	case *ws.OnlineUsersFrame:
		d.handleOnlineUsers(f)
	case *ws.PrivateMessageFrame:
		d.handlePrivateMessage(epoch, f)
	case *ws.TypingFrame:
		d.bus.Publish(bus.KindPresenceTyping, map[string]any{
			"from_user_id": f.FromUserID,
			"username":     f.Username,
			"typing":       f.FrameType() == ws.TypeTyping,
		})
	case *ws.DeleteForEveryoneFrame:
		d.handleDeleteForEveryone(f)
	case *ws.AccountDeletedFrame:
		d.handleAccountDeleted(f)
	case *ws.ProfileUpdateFrame:
		d.handleProfileUpdate(epoch, f)
	case *ws.ForceLogoutFrame:
		msg := f.Message
		if msg == "" {
			msg = "You have been logged out because you logged in from another device"
		}
		d.logger.Warn("force logout received", zap.String("message", msg))
		d.bus.Publish(bus.KindSessionForceLogout, msg)
	default:
		// Unknown frames were already filtered at decode; nothing to do.
	}
}

func (d *Dispatcher) handleOnlineUsers(f *ws.OnlineUsersFrame) {
	replacement := make(map[string]ws.OnlineUser, len(f.Users))
	for _, u := range f.Users {
		replacement[u.UserID] = u
	}
	d.mu.Lock()
	d.online = replacement
	d.mu.Unlock()
	d.bus.Publish(bus.KindPresenceOnline, f.Users)
}

func (d *Dispatcher) handlePrivateMessage(epoch int64, f *ws.PrivateMessageFrame) {
	d.mu.Lock()
	self := d.selfID
	active := d.active
	d.mu.Unlock()

	fromMe := f.FromUserID == self
	other := f.FromUserID
	if fromMe {
		other = f.ToUserID
	}
	chatKey := store.ChatKey(self, other)

	if fromMe {
		// The server stamps its own time on the echo of a sent message,
		// so the dedup key never matches the optimistic row. Match by
		// content instead and take the server timestamp as canonical.
		matched, err := d.db.ReconcileEcho(chatKey, f.Message, f.Filename, f.Time)
		if err != nil {
			d.logger.Error("failed to reconcile own echo", zap.Error(err), zap.String("chat_key", chatKey))
			return
		}
		if matched {
			d.bus.Publish(bus.KindMessageAppended, map[string]any{
				"chat_key":  chatKey,
				"sender_id": f.FromUserID,
			})
			return
		}
		// No pending row: sent from another client, store it as new.
	}

	msg := &store.Message{
		ChatKey:    chatKey,
		SenderID:   f.FromUserID,
		SenderName: f.FromUsername,
		Body:       f.Message,
		SentAt:     f.Time,
		FileData:   f.File,
		FileURL:    f.FileURL,
		FileName:   f.Filename,
		FileType:   f.FileType,
		FromMe:     fromMe,
		Status:     "received",
	}

	inserted, err := d.db.AppendMessage(msg)
	if err != nil {
		if errors.Is(err, store.ErrEmptyMessage) {
			d.logger.Warn("dropping empty message frame", zap.String("from", f.FromUserID))
			return
		}
		d.logger.Error("failed to append message", zap.Error(err), zap.String("chat_key", chatKey))
		return
	}
	if !inserted {
		// Duplicate delivery of an already-cached message.
		return
	}

	d.bus.Publish(bus.KindMessageAppended, map[string]any{
		"chat_key":  chatKey,
		"sender_id": f.FromUserID,
	})

	if !msg.FromMe && chatKey != active {
		count, err := d.db.IncrementUnread(other)
		if err != nil {
			d.logger.Error("failed to increment unread", zap.Error(err), zap.String("peer_id", other))
		} else {
			d.bus.Publish(bus.KindUnreadUpdated, map[string]any{"peer_id": other, "count": count})
		}
	}

	if !msg.FromMe && f.FromUsername == "" && d.backfill != nil {
		go d.backfillSenderName(epoch, f.FromUserID)
	}
}

// backfillSenderName resolves a missing sender name over REST. Fire and
// forget: the completion applies only if the connection that saw the frame
// is still the live one, and raises its own broadcast.
func (d *Dispatcher) backfillSenderName(epoch int64, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name, err := d.backfill.UsernameByID(ctx, userID)
	if err != nil || name == "" {
		// Views fall back to showing the raw identifier.
		return
	}
	if !d.guard.Alive(epoch) {
		return
	}
	if _, err := d.db.RenameSender(userID, name); err != nil {
		d.logger.Error("failed to backfill sender name", zap.Error(err), zap.String("user_id", userID))
		return
	}
	d.bus.Publish(bus.KindFriendUpdated, map[string]any{"user_id": userID, "username": name})
}

func (d *Dispatcher) handleDeleteForEveryone(f *ws.DeleteForEveryoneFrame) {
	if err := d.DeleteMessages(f.ChatKey, f.Timestamps); err != nil {
		d.logger.Error("failed to remove messages", zap.Error(err), zap.String("chat_key", f.ChatKey))
	}
}

// DeleteMessages removes the given timestamps from a conversation and
// recomputes the peer's unread counter from what survives. Used both for
// inbound delete frames and for locally initiated deletes.
func (d *Dispatcher) DeleteMessages(chatKey string, timestamps []string) error {
	d.mu.Lock()
	self := d.selfID
	d.mu.Unlock()

	removed, err := d.db.RemoveMessages(chatKey, timestamps)
	if err != nil {
		return err
	}
	d.bus.Publish(bus.KindMessageRemoved, map[string]any{
		"chat_key": chatKey,
		"removed":  removed,
	})

	peer := store.PeerID(chatKey, self)
	if peer == "" || peer == self {
		return nil
	}
	count, err := d.db.RecomputeUnread(chatKey, peer)
	if err != nil {
		d.logger.Error("failed to recompute unread", zap.Error(err), zap.String("peer_id", peer))
		return nil
	}
	d.bus.Publish(bus.KindUnreadUpdated, map[string]any{"peer_id": peer, "count": count})
	return nil
}

func (d *Dispatcher) handleAccountDeleted(f *ws.AccountDeletedFrame) {
	if err := d.db.CascadeRemovePeer(f.DeletedUserID); err != nil {
		d.logger.Error("failed to cascade account deletion", zap.Error(err), zap.String("user_id", f.DeletedUserID))
		return
	}
	d.mu.Lock()
	delete(d.online, f.DeletedUserID)
	d.mu.Unlock()

	d.logger.Info("peer account deleted, caches purged", zap.String("user_id", f.DeletedUserID))
	d.bus.Publish(bus.KindFriendRemoved, map[string]any{"user_id": f.DeletedUserID, "deleted": true})
	d.bus.Publish(bus.KindUnreadUpdated, map[string]any{"peer_id": f.DeletedUserID, "count": 0})
}

func (d *Dispatcher) handleProfileUpdate(epoch int64, f *ws.ProfileUpdateFrame) {
	updated, err := d.db.UpdateFriendProfile(f.UserID, f.Username, nil)
	if err != nil {
		d.logger.Error("failed to update friend profile", zap.Error(err), zap.String("user_id", f.UserID))
		return
	}
	if _, err := d.db.RenameSender(f.UserID, f.Username); err != nil {
		d.logger.Error("failed to rewrite message history", zap.Error(err), zap.String("user_id", f.UserID))
		return
	}
	d.bus.Publish(bus.KindFriendUpdated, map[string]any{
		"user_id":  f.UserID,
		"username": f.Username,
		"friend":   updated,
	})

	// The frame carries only the name; the avatar rides on REST.
	if updated && d.backfill != nil {
		go d.backfillProfilePic(epoch, f.UserID)
	}
}

// backfillProfilePic refreshes a friend's cached avatar after a profile
// change. Fire and forget with the same epoch discipline as the sender-name
// backfill.
func (d *Dispatcher) backfillProfilePic(epoch int64, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pic, err := d.backfill.ProfilePicByID(ctx, userID)
	if err != nil || pic == "" {
		return
	}
	if !d.guard.Alive(epoch) {
		return
	}
	if _, err := d.db.UpdateFriendProfilePic(userID, pic); err != nil {
		d.logger.Error("failed to backfill profile picture", zap.Error(err), zap.String("user_id", userID))
		return
	}
	d.bus.Publish(bus.KindFriendUpdated, map[string]any{"user_id": userID, "profile_pic": pic})
}
