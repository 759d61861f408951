package profile

import (
	"context"
	"fmt"

	"github.com/hashim-i222478/chatlink/internal/bus"
	"github.com/hashim-i222478/chatlink/internal/store"
	"go.uber.org/zap"
)

// Syncer keeps the local friends cache aligned with the server list.
type Syncer struct {
	client *Client
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewSyncer wires a friend-cache syncer.
func NewSyncer(client *Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *Syncer {
	return &Syncer{client: client, db: db, bus: b, logger: logger}
}

// Refresh replaces the whole friends cache with the server list and
// broadcasts the change.
func (s *Syncer) Refresh(ctx context.Context) (int, error) {
	friends, err := s.client.FetchFriends(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch friends: %w", err)
	}
	if err := s.db.ReplaceFriends(friends); err != nil {
		return 0, fmt.Errorf("replace friends: %w", err)
	}
	s.logger.Info("friends cache refreshed", zap.Int("count", len(friends)))
	s.bus.Publish(bus.KindFriendUpdated, map[string]any{"refreshed": true, "count": len(friends)})
	return len(friends), nil
}

// Add sends a friend addition to the server and caches the new friend
// locally. Name and avatar lookups are best effort; a failure leaves the
// cache entry sparse until the next refresh.
func (s *Syncer) Add(ctx context.Context, userID string) error {
	if err := s.client.AddFriend(ctx, userID); err != nil {
		return fmt.Errorf("add friend: %w", err)
	}
	friend := &store.Friend{UserID: userID}
	if name, err := s.client.UsernameByID(ctx, userID); err == nil {
		friend.Username = name
	} else {
		s.logger.Warn("friend added but username lookup failed", zap.Error(err), zap.String("user_id", userID))
	}
	if pic, err := s.client.ProfilePicByID(ctx, userID); err == nil {
		friend.ProfilePic = pic
	}
	if err := s.db.UpsertFriend(friend); err != nil {
		return fmt.Errorf("cache friend: %w", err)
	}
	s.bus.Publish(bus.KindFriendUpdated, map[string]any{"user_id": userID, "username": friend.Username})
	return nil
}

// SetAlias updates a friend's alias on the server and locally. Returns false
// without error when the user is not in the local cache.
func (s *Syncer) SetAlias(ctx context.Context, userID, alias string) (bool, error) {
	ok, err := s.db.UpdateFriendAlias(userID, alias)
	if err != nil || !ok {
		return ok, err
	}
	if err := s.client.SetAlias(ctx, userID, alias); err != nil {
		s.logger.Warn("alias saved locally but server update failed", zap.Error(err), zap.String("user_id", userID))
	}
	s.bus.Publish(bus.KindFriendUpdated, map[string]any{"user_id": userID, "alias": alias})
	return true, nil
}

// Remove drops a friend on the server and from the local cache. The
// conversation history stays.
func (s *Syncer) Remove(ctx context.Context, userID string) (bool, error) {
	if err := s.client.RemoveFriend(ctx, userID); err != nil {
		return false, err
	}
	ok, err := s.db.RemoveFriend(userID)
	if err != nil {
		return false, err
	}
	if ok {
		s.bus.Publish(bus.KindFriendRemoved, map[string]any{"user_id": userID})
	}
	return ok, nil
}
