package outbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashim-i222478/chatlink/internal/bus"
	"github.com/hashim-i222478/chatlink/internal/status"
	"github.com/hashim-i222478/chatlink/internal/store"
	"github.com/hashim-i222478/chatlink/internal/ws"
	"go.uber.org/zap"
)

const pollInterval = 500 * time.Millisecond

// Transport pushes a frame down the live connection.
type Transport interface {
	Send(frame ws.Frame) error
}

// Uploader stores attachment bytes remotely and returns a served URL.
type Uploader interface {
	Upload(ctx context.Context, filename, contentType string, data []byte) (string, error)
}

// Attachment is an outgoing file. Data is a base64 payload, with or without
// a data-URL prefix.
type Attachment struct {
	Data string
	Name string
	Type string
}

// Sender drains queued outgoing messages whenever the connection is online.
// Messages are appended locally first so the conversation shows them
// immediately; delivery status catches up as sends complete.
type Sender struct {
	db        *store.DB
	machine   *status.Machine
	transport Transport
	uploader  Uploader
	bus       *bus.Bus
	logger    *zap.Logger

	mu       sync.Mutex
	selfID   string
	selfName string
}

// NewSender wires an outbox sender. uploader may be nil; attachments are
// then sent inline.
func NewSender(db *store.DB, machine *status.Machine, transport Transport, uploader Uploader, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:        db,
		machine:   machine,
		transport: transport,
		uploader:  uploader,
		bus:       b,
		logger:    logger,
	}
}

// SetIdentity records who outgoing messages are from.
func (s *Sender) SetIdentity(userID, username string) {
	s.mu.Lock()
	s.selfID = userID
	s.selfName = username
	s.mu.Unlock()
}

func (s *Sender) identity() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID, s.selfName
}

// Queue stores an outgoing message and appends it optimistically to the
// conversation. Returns the client message id used to track delivery.
func (s *Sender) Queue(toUserID, body string, att *Attachment) (string, error) {
	selfID, selfName := s.identity()
	if selfID == "" {
		return "", fmt.Errorf("no identity set")
	}
	if body == "" && att == nil {
		return "", store.ErrEmptyMessage
	}

	now := time.Now()
	entry := &store.OutboxEntry{
		ClientMsgID: uuid.NewString(),
		ChatKey:     store.ChatKey(selfID, toUserID),
		ToUserID:    toUserID,
		Body:        body,
		CreatedAt:   now.UnixMilli(),
	}
	if att != nil {
		entry.FileData = att.Data
		entry.FileName = att.Name
		entry.FileType = att.Type
	}
	if err := s.db.QueueOutbox(entry); err != nil {
		return "", fmt.Errorf("queue message: %w", err)
	}

	msg := &store.Message{
		ChatKey:    entry.ChatKey,
		SenderID:   selfID,
		SenderName: selfName,
		Body:       body,
		SentAt:     sentAtFor(entry),
		FromMe:     true,
		Status:     "sending",
	}
	if att != nil {
		msg.FileData = att.Data
		msg.FileName = att.Name
		msg.FileType = att.Type
	}
	if _, err := s.db.AppendMessage(msg); err != nil {
		return "", fmt.Errorf("append optimistic message: %w", err)
	}
	s.bus.Publish(bus.KindMessageAppended, map[string]any{
		"chat_key":  entry.ChatKey,
		"sender_id": selfID,
	})
	return entry.ClientMsgID, nil
}

// Run polls the outbox until ctx is done. Entries are only drained while
// the connection is online; everything else waits in the queue.
func (s *Sender) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.machine.Current() != status.Online {
				continue
			}
			s.drain(ctx)
		}
	}
}

func (s *Sender) drain(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}
	for i := range pending {
		if ctx.Err() != nil {
			return
		}
		s.deliver(ctx, &pending[i])
	}
}

func (s *Sender) deliver(ctx context.Context, e *store.OutboxEntry) {
	selfID, selfName := s.identity()
	if err := s.db.MarkOutboxSending(e.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", e.ClientMsgID))
		return
	}

	frame := &ws.PrivateMessageFrame{
		Type:         ws.TypePrivateMessage,
		FromUserID:   selfID,
		FromUsername: selfName,
		ToUserID:     e.ToUserID,
		Message:      e.Body,
		Time:         sentAtFor(e),
	}

	if e.FileData != "" && e.FileURL == "" && s.uploader != nil {
		url, err := s.uploadAttachment(ctx, e)
		if err != nil {
			s.fail(e, fmt.Errorf("upload attachment: %w", err))
			return
		}
		frame.FileURL = url
		frame.Filename = e.FileName
		frame.FileType = e.FileType
	} else if e.FileData != "" {
		frame.File = e.FileData
		frame.Filename = e.FileName
		frame.FileType = e.FileType
	} else if e.FileURL != "" {
		frame.FileURL = e.FileURL
		frame.Filename = e.FileName
		frame.FileType = e.FileType
	}

	if err := s.transport.Send(frame); err != nil {
		s.fail(e, err)
		return
	}

	if err := s.db.MarkOutboxSent(e.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", e.ClientMsgID))
	}
	if err := s.db.MarkMessageStatus(e.ChatKey, sentAtFor(e), "sent"); err != nil {
		s.logger.Error("failed to update message status", zap.Error(err))
	}
	s.bus.Publish(bus.KindMessageSendAck, map[string]any{
		"client_msg_id": e.ClientMsgID,
		"chat_key":      e.ChatKey,
	})
}

func (s *Sender) fail(e *store.OutboxEntry, cause error) {
	s.logger.Warn("message delivery failed",
		zap.Error(cause), zap.String("client_msg_id", e.ClientMsgID))
	if err := s.db.MarkOutboxFailed(e.ClientMsgID, cause.Error()); err != nil {
		s.logger.Error("failed to mark failed", zap.Error(err))
	}
	if err := s.db.MarkMessageStatus(e.ChatKey, sentAtFor(e), "failed"); err != nil {
		s.logger.Error("failed to update message status", zap.Error(err))
	}
	s.bus.Publish(bus.KindMessageSendFail, map[string]any{
		"client_msg_id": e.ClientMsgID,
		"chat_key":      e.ChatKey,
		"error":         cause.Error(),
	})
}

func (s *Sender) uploadAttachment(ctx context.Context, e *store.OutboxEntry) (string, error) {
	payload := e.FileData
	contentType := e.FileType
	// data:image/png;base64,AAAA -> content type and raw payload
	if strings.HasPrefix(payload, "data:") {
		if idx := strings.Index(payload, ","); idx >= 0 {
			header := payload[len("data:"):idx]
			payload = payload[idx+1:]
			if ct, ok := strings.CutSuffix(header, ";base64"); ok {
				contentType = ct
			}
		}
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decode attachment: %w", err)
	}
	upCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.uploader.Upload(upCtx, e.FileName, contentType, raw)
}

// sentAtFor derives the display timestamp shared by the outbox entry and its
// optimistic local message.
func sentAtFor(e *store.OutboxEntry) string {
	return time.UnixMilli(e.CreatedAt).Format("15:04:05")
}
