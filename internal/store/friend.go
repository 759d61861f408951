package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertFriend inserts or updates a friend record.
func (db *DB) UpsertFriend(f *Friend) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO friends (user_id, username, alias, profile_pic, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			alias = excluded.alias,
			profile_pic = excluded.profile_pic,
			updated_at = excluded.updated_at`,
		f.UserID, f.Username, f.Alias, f.ProfilePic, now)
	return err
}

// ReplaceFriends swaps the whole friends cache for a freshly fetched list.
func (db *DB) ReplaceFriends(friends []Friend) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM friends`); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, f := range friends {
		if _, err := tx.Exec(`
			INSERT INTO friends (user_id, username, alias, profile_pic, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			f.UserID, f.Username, f.Alias, f.ProfilePic, now); err != nil {
			return fmt.Errorf("insert friend %q: %w", f.UserID, err)
		}
	}
	return tx.Commit()
}

// GetFriend returns a friend by user ID, or nil if not a friend.
func (db *DB) GetFriend(userID string) (*Friend, error) {
	var f Friend
	err := db.QueryRow(`SELECT user_id, username, alias, profile_pic FROM friends WHERE user_id = ?`, userID).
		Scan(&f.UserID, &f.Username, &f.Alias, &f.ProfilePic)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFriends returns all cached friends ordered by display name.
func (db *DB) ListFriends() ([]Friend, error) {
	rows, err := db.Query(`
		SELECT user_id, username, alias, profile_pic
		FROM friends
		ORDER BY COALESCE(NULLIF(alias,''), username)`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var friends []Friend
	for rows.Next() {
		var f Friend
		if err := rows.Scan(&f.UserID, &f.Username, &f.Alias, &f.ProfilePic); err != nil {
			return nil, err
		}
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

// IsFriend reports whether the user is in the friends cache. Pure lookup,
// no side effects.
func (db *DB) IsFriend(userID string) (bool, error) {
	var one int
	err := db.QueryRow(`SELECT 1 FROM friends WHERE user_id = ?`, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateFriendAlias sets the local alias for a friend. Returns false if the
// user is not currently a friend.
func (db *DB) UpdateFriendAlias(userID, alias string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`UPDATE friends SET alias = ?, updated_at = ? WHERE user_id = ?`,
		alias, now, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateFriendProfile overwrites the username (and optionally the profile
// picture) of a friend record. No-op returning false if the user is not a
// friend.
func (db *DB) UpdateFriendProfile(userID, newUsername string, newProfilePic *string) (bool, error) {
	now := time.Now().UnixMilli()
	var (
		res sql.Result
		err error
	)
	if newProfilePic != nil {
		res, err = db.Exec(`UPDATE friends SET username = ?, profile_pic = ?, updated_at = ? WHERE user_id = ?`,
			newUsername, *newProfilePic, now, userID)
	} else {
		res, err = db.Exec(`UPDATE friends SET username = ?, updated_at = ? WHERE user_id = ?`,
			newUsername, now, userID)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateFriendProfilePic overwrites just the avatar of a friend record.
// No-op returning false when the user is not a friend.
func (db *DB) UpdateFriendProfilePic(userID, pic string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`UPDATE friends SET profile_pic = ?, updated_at = ? WHERE user_id = ?`,
		pic, now, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemoveFriend deletes a friend record. Returns whether a record existed.
func (db *DB) RemoveFriend(userID string) (bool, error) {
	res, err := db.Exec(`DELETE FROM friends WHERE user_id = ?`, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
