package session

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang-jwt/jwt/v5"
)

// Identity is the logged-in user stored for a session. Exactly one identity
// is active per session; a missing credentials file means logged out.
type Identity struct {
	UserID   string `toml:"user_id"`
	Username string `toml:"username"`
	Token    string `toml:"token"`
}

// ErrNoIdentity is returned when no credentials are stored for the session.
var ErrNoIdentity = errors.New("no stored identity")

// LoadIdentity reads the stored identity for a session.
// Returns ErrNoIdentity if no credentials file exists.
func LoadIdentity(name string) (*Identity, error) {
	path := CredentialsPath(name)
	var id Identity
	_, err := toml.DecodeFile(path, &id)
	if os.IsNotExist(err) {
		return nil, ErrNoIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	if id.UserID == "" || id.Token == "" {
		return nil, ErrNoIdentity
	}
	return &id, nil
}

// SaveIdentity persists the identity for a session with 0600 permissions.
func SaveIdentity(name string, id *Identity) error {
	if err := EnsureDir(name); err != nil {
		return err
	}
	f, err := os.OpenFile(CredentialsPath(name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(id)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ClearIdentity removes the stored credentials. Missing file is not an error.
func ClearIdentity(name string) error {
	err := os.Remove(CredentialsPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// TokenExpired reports whether the identity's auth token carries an exp
// claim in the past. The signature is not verified; the server is the
// authority and rejects bad tokens anyway. This only avoids dialing with a
// token that is already known to be dead.
func (id *Identity) TokenExpired(now time.Time) bool {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(id.Token, claims)
	if err != nil {
		// Not a parseable JWT: let the server decide.
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}
