package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashim-i222478/chatlink/internal/session"
	"github.com/hashim-i222478/chatlink/internal/store"
	"go.uber.org/zap"
)

// Client talks to the account backend over REST. It covers the subset of the
// API the daemon consumes: authentication, friend list sync, profile lookups
// used to backfill missing sender names, and attachment upload.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a REST client for the given base URL (no trailing slash
// required).
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

// SetToken installs the bearer token used for authenticated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d", e.Status)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		msg := ""
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil {
			msg = apiErr.Error
			if msg == "" {
				msg = apiErr.Message
			}
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Login authenticates and returns the identity to persist. The client keeps
// the returned token for subsequent calls.
func (c *Client) Login(ctx context.Context, email, password string) (*session.Identity, error) {
	var resp struct {
		Token string `json:"token"`
		User  struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, "/users/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Token == "" || resp.User.ID == "" {
		return nil, fmt.Errorf("login response missing token or user id")
	}
	c.SetToken(resp.Token)
	return &session.Identity{
		UserID:   resp.User.ID,
		Username: resp.User.Username,
		Token:    resp.Token,
	}, nil
}

// UsernameByID resolves a user's current username. Used to backfill frames
// that arrive without one.
func (c *Client) UsernameByID(ctx context.Context, userID string) (string, error) {
	var resp struct {
		Username string `json:"username"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/username/"+userID, nil, &resp); err != nil {
		return "", err
	}
	return resp.Username, nil
}

// ProfilePicByID resolves a user's avatar URL. Empty string when the user
// has none.
func (c *Client) ProfilePicByID(ctx context.Context, userID string) (string, error) {
	var resp struct {
		ProfilePic string `json:"profilePic"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/profile-pic/"+userID, nil, &resp); err != nil {
		return "", err
	}
	return resp.ProfilePic, nil
}

// FetchFriends returns the server-side friend list.
func (c *Client) FetchFriends(ctx context.Context) ([]store.Friend, error) {
	var resp []struct {
		UserID     string `json:"userId"`
		Username   string `json:"username"`
		Alias      string `json:"alias"`
		ProfilePic string `json:"profilePic"`
	}
	if err := c.do(ctx, http.MethodGet, "/friends", nil, &resp); err != nil {
		return nil, err
	}
	friends := make([]store.Friend, 0, len(resp))
	for _, f := range resp {
		friends = append(friends, store.Friend{
			UserID:     f.UserID,
			Username:   f.Username,
			Alias:      f.Alias,
			ProfilePic: f.ProfilePic,
		})
	}
	return friends, nil
}

// AddFriend sends a friend request / addition for the given user.
func (c *Client) AddFriend(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/friends", map[string]string{"userId": userID}, nil)
}

// RemoveFriend removes a friend on the server.
func (c *Client) RemoveFriend(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, "/friends/"+userID, nil, nil)
}

// SetAlias stores a display-name override for a friend on the server.
func (c *Client) SetAlias(ctx context.Context, userID, alias string) error {
	return c.do(ctx, http.MethodPut, "/friends/"+userID+"/alias", map[string]string{"alias": alias}, nil)
}

// Upload pushes attachment bytes to the backend and returns the served URL.
func (c *Client) Upload(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Status: resp.StatusCode}
	}
	var out struct {
		FileURL string `json:"fileUrl"`
		URL     string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.FileURL != "" {
		return out.FileURL, nil
	}
	return out.URL, nil
}
