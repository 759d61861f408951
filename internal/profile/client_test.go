package profile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hashim-i222478/chatlink/internal/bus"
	"github.com/hashim-i222478/chatlink/internal/store"
	"go.uber.org/zap"
)

func TestLoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "h@example.com" {
			t.Errorf("email = %q", body["email"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": "tok-123",
			"user":  map[string]string{"id": "u1", "username": "hashim"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	id, err := c.Login(context.Background(), "h@example.com", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != "u1" || id.Username != "hashim" || id.Token != "tok-123" {
		t.Errorf("identity = %+v", id)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != "tok-123" {
		t.Errorf("token not retained: %q", c.token)
	}
}

func TestUsernameByIDSendsBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		if r.URL.Path != "/users/username/u9" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"username": "nine"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	c.SetToken("tok")
	name, err := c.UsernameByID(context.Background(), "u9")
	if err != nil {
		t.Fatal(err)
	}
	if name != "nine" {
		t.Errorf("username = %q", name)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad token"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	_, err := c.UsernameByID(context.Background(), "u1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Message != "bad token" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestUploadReturnsURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatal(err)
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = f.Close() }()
		if header.Filename != "pic.png" {
			t.Errorf("filename = %q", header.Filename)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"fileUrl": "/uploads/pic.png"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	url, err := c.Upload(context.Background(), "pic.png", "image/png", []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if url != "/uploads/pic.png" {
		t.Errorf("url = %q", url)
	}
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSyncerRefreshReplacesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"userId": "a", "username": "ada"},
			{"userId": "b", "username": "ben", "alias": "B"},
		})
	}))
	defer srv.Close()

	db := testDB(t)
	if err := db.UpsertFriend(&store.Friend{UserID: "stale", Username: "gone"}); err != nil {
		t.Fatal(err)
	}

	s := NewSyncer(NewClient(srv.URL, zap.NewNop()), db, bus.New(), zap.NewNop())
	n, err := s.Refresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("refreshed = %d, want 2", n)
	}
	if ok, _ := db.IsFriend("stale"); ok {
		t.Error("stale friend survived refresh")
	}
	f, _ := db.GetFriend("b")
	if f == nil || f.DisplayName() != "B" {
		t.Errorf("friend b = %+v", f)
	}
}

func TestSyncerAddCachesFriend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/friends":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["userId"] != "u2" {
				t.Errorf("userId = %q", body["userId"])
			}
			w.WriteHeader(http.StatusCreated)
		case r.URL.Path == "/users/username/u2":
			_ = json.NewEncoder(w).Encode(map[string]string{"username": "zoe"})
		case r.URL.Path == "/users/profile-pic/u2":
			_ = json.NewEncoder(w).Encode(map[string]string{"profilePic": "/uploads/zoe.png"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	db := testDB(t)
	s := NewSyncer(NewClient(srv.URL, zap.NewNop()), db, bus.New(), zap.NewNop())
	if err := s.Add(context.Background(), "u2"); err != nil {
		t.Fatal(err)
	}

	f, err := db.GetFriend("u2")
	if err != nil {
		t.Fatal(err)
	}
	if f == nil || f.Username != "zoe" || f.ProfilePic != "/uploads/zoe.png" {
		t.Errorf("cached friend = %+v", f)
	}
}

func TestSyncerAliasNoopForNonFriend(t *testing.T) {
	db := testDB(t)
	s := NewSyncer(NewClient("http://127.0.0.1:0", zap.NewNop()), db, bus.New(), zap.NewNop())

	ok, err := s.SetAlias(context.Background(), "nobody", "X")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("alias applied to non-friend")
	}
}
