package daemon

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashim-i222478/chatlink/internal/bus"
	"github.com/hashim-i222478/chatlink/internal/config"
	"github.com/hashim-i222478/chatlink/internal/dispatch"
	"github.com/hashim-i222478/chatlink/internal/outbox"
	"github.com/hashim-i222478/chatlink/internal/profile"
	"github.com/hashim-i222478/chatlink/internal/session"
	"github.com/hashim-i222478/chatlink/internal/status"
	"github.com/hashim-i222478/chatlink/internal/store"
	"github.com/hashim-i222478/chatlink/internal/ws"
	"go.uber.org/zap"
)

type testEnv struct {
	server *Server
	http   *httptest.Server
	db     *store.DB
	disp   *dispatch.Dispatcher
	mgr    *ws.Manager
}

// dispatch delivers a frame tagged with the live epoch, as the read loop
// would.
func (e *testEnv) dispatch(frame ws.Frame) {
	e.disp.Dispatch(e.mgr.Epoch(), frame)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	const name = "main"
	if err := session.EnsureDir(name); err != nil {
		t.Fatal(err)
	}
	db, err := store.Open(session.CacheDBPath(name))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	manager := ws.NewManager("ws://127.0.0.1:0", machine, config.Reconnect{}, logger)
	client := profile.NewClient("http://127.0.0.1:0", logger)
	disp := dispatch.New(db, b, manager, client, logger)
	manager.SetDispatcher(disp)
	syncer := profile.NewSyncer(client, db, b, logger)
	sender := outbox.NewSender(db, machine, manager, client, b, logger)

	if err := session.SaveIdentity(name, &session.Identity{UserID: "me", Username: "me-name", Token: "tok"}); err != nil {
		t.Fatal(err)
	}
	disp.SetIdentity("me")
	sender.SetIdentity("me", "me-name")

	srv := newServer(Params{SessionName: name}, db, b, machine, manager, disp, client, syncer, sender, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: srv, http: ts, db: db, disp: disp, mgr: manager}
}

func (e *testEnv) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) post(t *testing.T, path string, body, out any) int {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(e.http.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestStatusReportsIdentity(t *testing.T) {
	e := newTestEnv(t)
	var resp map[string]any
	if code := e.get(t, "/v1/status", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp["logged_in"] != true || resp["user_id"] != "me" {
		t.Errorf("resp = %+v", resp)
	}
	if resp["state"] != string(status.LoggedOut) {
		t.Errorf("state = %v, want LOGGED_OUT before connect", resp["state"])
	}
	if _, ok := resp["conversations"]; !ok {
		t.Error("no conversation count in status")
	}
	if _, ok := resp["messages"]; !ok {
		t.Error("no message count in status")
	}
}

func TestStatusCountsCachedRows(t *testing.T) {
	e := newTestEnv(t)
	e.dispatch(inboundFrame("peer", "one", "10:00:00"))
	e.dispatch(inboundFrame("peer", "two", "10:00:01"))

	var resp struct {
		Conversations int64 `json:"conversations"`
		Messages      int64 `json:"messages"`
	}
	if code := e.get(t, "/v1/status", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Conversations != 1 || resp.Messages != 2 {
		t.Errorf("counts = %+v, want 1 conversation, 2 messages", resp)
	}
}

func TestSendQueuesAndListsMessage(t *testing.T) {
	e := newTestEnv(t)

	var resp map[string]any
	code := e.post(t, "/v1/send", map[string]any{"to_user_id": "peer", "body": "hello"}, &resp)
	if code != http.StatusAccepted {
		t.Fatalf("send = %d (%+v)", code, resp)
	}
	if resp["client_msg_id"] == "" {
		t.Error("no client_msg_id returned")
	}

	key := store.ChatKey("me", "peer")
	var msgs struct {
		Messages []store.Message `json:"messages"`
	}
	if code := e.get(t, "/v1/conversations/"+key+"/messages", &msgs); code != http.StatusOK {
		t.Fatalf("messages = %d", code)
	}
	if len(msgs.Messages) != 1 || msgs.Messages[0].Body != "hello" || !msgs.Messages[0].FromMe {
		t.Errorf("messages = %+v", msgs.Messages)
	}
}

func TestSendRejectsEmpty(t *testing.T) {
	e := newTestEnv(t)
	if code := e.post(t, "/v1/send", map[string]any{"to_user_id": "peer"}, nil); code != http.StatusBadRequest {
		t.Errorf("empty send = %d, want 400", code)
	}
	if code := e.post(t, "/v1/send", map[string]any{"body": "x"}, nil); code != http.StatusBadRequest {
		t.Errorf("missing recipient = %d, want 400", code)
	}
}

func TestOpenClearsUnread(t *testing.T) {
	e := newTestEnv(t)

	e.dispatch(inboundFrame("peer", "hi", "10:00:00"))
	var unread struct {
		Unread map[string]int `json:"unread"`
	}
	e.get(t, "/v1/unread", &unread)
	if unread.Unread["peer"] != 1 {
		t.Fatalf("unread = %+v, want peer:1", unread.Unread)
	}

	key := store.ChatKey("me", "peer")
	if code := e.post(t, "/v1/conversations/"+key+"/open", nil, nil); code != http.StatusOK {
		t.Fatalf("open = %d", code)
	}
	e.get(t, "/v1/unread", &unread)
	if unread.Unread["peer"] != 0 {
		t.Errorf("unread after open = %+v", unread.Unread)
	}
}

func TestOpenRejectsForeignConversation(t *testing.T) {
	e := newTestEnv(t)
	key := store.ChatKey("alice", "bob")
	if code := e.post(t, "/v1/conversations/"+key+"/open", nil, nil); code != http.StatusBadRequest {
		t.Errorf("open foreign conversation = %d, want 400", code)
	}
}

func TestFriendAddRequiresUserID(t *testing.T) {
	e := newTestEnv(t)
	if code := e.post(t, "/v1/friends", map[string]any{}, nil); code != http.StatusBadRequest {
		t.Errorf("friend add without user_id = %d, want 400", code)
	}
}

func TestDeleteForMeWorksOffline(t *testing.T) {
	e := newTestEnv(t)
	e.dispatch(inboundFrame("peer", "gone", "10:00:00"))

	key := store.ChatKey("me", "peer")
	code := e.post(t, "/v1/delete", map[string]any{
		"chat_key":   key,
		"timestamps": []string{"10:00:00"},
	}, nil)
	if code != http.StatusOK {
		t.Fatalf("delete = %d", code)
	}
	msgs, _ := e.db.ListMessages(key, 0, 10)
	if len(msgs) != 0 {
		t.Errorf("%d messages survive local delete", len(msgs))
	}
}

func TestDeleteForEveryoneNeedsConnection(t *testing.T) {
	e := newTestEnv(t)
	e.dispatch(inboundFrame("peer", "stays", "10:00:00"))

	key := store.ChatKey("me", "peer")
	code := e.post(t, "/v1/delete", map[string]any{
		"chat_key":     key,
		"timestamps":   []string{"10:00:00"},
		"for_everyone": true,
	}, nil)
	if code != http.StatusConflict {
		t.Fatalf("delete = %d, want 409 while disconnected", code)
	}
	msgs, _ := e.db.ListMessages(key, 0, 10)
	if len(msgs) != 1 {
		t.Error("message removed locally although the remote delete failed")
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	e := newTestEnv(t)
	if code := e.get(t, "/v1/search", nil); code != http.StatusBadRequest {
		t.Errorf("search without q = %d, want 400", code)
	}
}

func TestFriendAliasUnknownFriend(t *testing.T) {
	e := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodPut, e.http.URL+"/v1/friends/nobody/alias",
		bytes.NewReader([]byte(`{"alias":"X"}`)))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("alias = %d, want 404", resp.StatusCode)
	}
}

func TestLogoutPreservesConversations(t *testing.T) {
	e := newTestEnv(t)
	e.dispatch(inboundFrame("peer", "keep me", "10:00:00"))
	if err := e.db.UpsertFriend(&store.Friend{UserID: "peer", Username: "pete"}); err != nil {
		t.Fatal(err)
	}

	if code := e.post(t, "/v1/logout", nil, nil); code != http.StatusOK {
		t.Fatalf("logout = %d", code)
	}

	if _, err := session.LoadIdentity("main"); err != session.ErrNoIdentity {
		t.Errorf("credentials survived logout: %v", err)
	}
	if ok, _ := e.db.IsFriend("peer"); ok {
		t.Error("friends cache survived logout")
	}
	msgs, _ := e.db.ListMessages(store.ChatKey("me", "peer"), 0, 10)
	if len(msgs) != 1 {
		t.Error("conversation history lost on logout")
	}
}

func inboundFrame(from, body, at string) *ws.PrivateMessageFrame {
	return &ws.PrivateMessageFrame{
		Type:       ws.TypePrivateMessage,
		FromUserID: from,
		ToUserID:   "me",
		Message:    body,
		Time:       at,
	}
}
