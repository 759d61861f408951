package outbox

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hashim-i222478/chatlink/internal/bus"
	"github.com/hashim-i222478/chatlink/internal/status"
	"github.com/hashim-i222478/chatlink/internal/store"
	"github.com/hashim-i222478/chatlink/internal/ws"
	"go.uber.org/zap"
)

type fakeTransport struct {
	mu     sync.Mutex
	frames []*ws.PrivateMessageFrame
	err    error
	sent   chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(chan struct{}, 16)}
}

func (t *fakeTransport) Send(frame ws.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.frames = append(t.frames, frame.(*ws.PrivateMessageFrame))
	select {
	case t.sent <- struct{}{}:
	default:
	}
	return nil
}

type fakeUploader struct {
	gotName string
	gotData []byte
	url     string
}

func (u *fakeUploader) Upload(_ context.Context, filename, _ string, data []byte) (string, error) {
	u.gotName = filename
	u.gotData = data
	return u.url, nil
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

func onlineMachine(t *testing.T, b *bus.Bus) *status.Machine {
	t.Helper()
	m := status.NewMachine(b)
	if err := m.Transition(status.Connecting); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(status.Online); err != nil {
		t.Fatal(err)
	}
	return m
}

func newTestSender(t *testing.T) (*Sender, *store.DB, *fakeTransport) {
	t.Helper()
	db := testDB(t)
	b := bus.New()
	transport := newFakeTransport()
	s := NewSender(db, onlineMachine(t, b), transport, nil, b, zap.NewNop())
	s.SetIdentity("me", "me-name")
	return s, db, transport
}

func TestQueueAppendsOptimistically(t *testing.T) {
	s, db, _ := newTestSender(t)

	id, err := s.Queue("peer", "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty client message id")
	}

	msgs, _ := db.ListMessages(store.ChatKey("me", "peer"), 0, 10)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if !msgs[0].FromMe || msgs[0].Status != "sending" {
		t.Errorf("optimistic message = %+v", msgs[0])
	}
	pending, _ := db.PendingOutbox()
	if len(pending) != 1 || pending[0].ClientMsgID != id {
		t.Errorf("pending = %+v", pending)
	}
}

func TestQueueRejectsEmpty(t *testing.T) {
	s, _, _ := newTestSender(t)
	if _, err := s.Queue("peer", "", nil); !errors.Is(err, store.ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestDrainSendsAndMarksSent(t *testing.T) {
	s, db, transport := newTestSender(t)

	if _, err := s.Queue("peer", "hello", nil); err != nil {
		t.Fatal(err)
	}
	s.drain(context.Background())

	transport.mu.Lock()
	if len(transport.frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(transport.frames))
	}
	frame := transport.frames[0]
	transport.mu.Unlock()

	if frame.FromUserID != "me" || frame.ToUserID != "peer" || frame.Message != "hello" {
		t.Errorf("frame = %+v", frame)
	}

	pending, _ := db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("entry still pending after send: %+v", pending)
	}
	msgs, _ := db.ListMessages(store.ChatKey("me", "peer"), 0, 10)
	if msgs[0].Status != "sent" {
		t.Errorf("message status = %q, want sent", msgs[0].Status)
	}
}

func TestSendFailureMarksFailed(t *testing.T) {
	s, db, transport := newTestSender(t)
	transport.err = errors.New("socket gone")

	id, err := s.Queue("peer", "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	s.drain(context.Background())

	pending, _ := db.PendingOutbox()
	if len(pending) != 0 {
		t.Error("failed entry still counts as pending")
	}
	msgs, _ := db.ListMessages(store.ChatKey("me", "peer"), 0, 10)
	if msgs[0].Status != "failed" {
		t.Errorf("message status = %q, want failed", msgs[0].Status)
	}

	// Requeue puts it back for another attempt.
	if err := db.RequeueOutbox(id); err != nil {
		t.Fatal(err)
	}
	transport.err = nil
	s.drain(context.Background())
	msgs, _ = db.ListMessages(store.ChatKey("me", "peer"), 0, 10)
	if msgs[0].Status != "sent" {
		t.Errorf("status after requeue = %q, want sent", msgs[0].Status)
	}
}

func TestAttachmentUploadedBeforeSend(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	transport := newFakeTransport()
	uploader := &fakeUploader{url: "/uploads/cat.png"}
	s := NewSender(db, onlineMachine(t, b), transport, uploader, b, zap.NewNop())
	s.SetIdentity("me", "me-name")

	raw := []byte{1, 2, 3, 4}
	data := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
	if _, err := s.Queue("peer", "", &Attachment{Data: data, Name: "cat.png", Type: "image/png"}); err != nil {
		t.Fatal(err)
	}
	s.drain(context.Background())

	if uploader.gotName != "cat.png" || string(uploader.gotData) != string(raw) {
		t.Errorf("upload got name=%q data=%v", uploader.gotName, uploader.gotData)
	}
	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.frames) != 1 {
		t.Fatalf("sent %d frames", len(transport.frames))
	}
	if transport.frames[0].FileURL != "/uploads/cat.png" || transport.frames[0].File != "" {
		t.Errorf("frame attachment = %+v", transport.frames[0])
	}
}

func TestRunWaitsForOnline(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	transport := newFakeTransport()
	machine := status.NewMachine(b)
	s := NewSender(db, machine, transport, nil, b, zap.NewNop())
	s.SetIdentity("me", "me-name")

	if _, err := s.Queue("peer", "waiting", nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case <-transport.sent:
		t.Fatal("sent while logged out")
	case <-time.After(700 * time.Millisecond):
	}

	if err := machine.Transition(status.Connecting); err != nil {
		t.Fatal(err)
	}
	if err := machine.Transition(status.Online); err != nil {
		t.Fatal(err)
	}

	select {
	case <-transport.sent:
	case <-time.After(3 * time.Second):
		t.Fatal("never sent after going online")
	}
}
