package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashim-i222478/chatlink/internal/bus"
	"github.com/hashim-i222478/chatlink/internal/dispatch"
	"github.com/hashim-i222478/chatlink/internal/outbox"
	"github.com/hashim-i222478/chatlink/internal/profile"
	"github.com/hashim-i222478/chatlink/internal/session"
	"github.com/hashim-i222478/chatlink/internal/status"
	"github.com/hashim-i222478/chatlink/internal/store"
	"github.com/hashim-i222478/chatlink/internal/ws"
	"go.uber.org/zap"
)

// Server is the local control API served over the session's unix socket.
// Everything a frontend needs goes through here; the socket's file
// permissions are the authentication.
type Server struct {
	params     Params
	db         *store.DB
	bus        *bus.Bus
	machine    *status.Machine
	manager    *ws.Manager
	dispatcher *dispatch.Dispatcher
	client     *profile.Client
	syncer     *profile.Syncer
	sender     *outbox.Sender
	logger     *zap.Logger
}

func newServer(
	p Params,
	db *store.DB,
	b *bus.Bus,
	machine *status.Machine,
	manager *ws.Manager,
	dispatcher *dispatch.Dispatcher,
	client *profile.Client,
	syncer *profile.Syncer,
	sender *outbox.Sender,
	logger *zap.Logger,
) *Server {
	return &Server{
		params:     p,
		db:         db,
		bus:        b,
		machine:    machine,
		manager:    manager,
		dispatcher: dispatcher,
		client:     client,
		syncer:     syncer,
		sender:     sender,
		logger:     logger,
	}
}

// Handler builds the control API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/presence", s.handlePresence)
		r.Get("/unread", s.handleUnread)
		r.Get("/conversations", s.handleConversations)
		r.Route("/conversations/{key}", func(r chi.Router) {
			r.Get("/messages", s.handleMessages)
			r.Post("/open", s.handleOpen)
			r.Post("/close", s.handleClose)
			r.Delete("/", s.handleDeleteConversation)
		})
		r.Post("/send", s.handleSend)
		r.Post("/delete", s.handleDelete)
		r.Post("/typing", s.handleTyping)
		r.Get("/friends", s.handleFriends)
		r.Post("/friends", s.handleFriendAdd)
		r.Post("/friends/refresh", s.handleFriendsRefresh)
		r.Put("/friends/{id}/alias", s.handleFriendAlias)
		r.Delete("/friends/{id}", s.handleFriendRemove)
		r.Get("/search", s.handleSearch)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
	})
	return r
}

func respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondErr(w http.ResponseWriter, code int, err error) {
	respond(w, code, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) identity() (*session.Identity, error) {
	return session.LoadIdentity(s.params.SessionName)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"session": s.params.SessionName,
		"state":   string(s.machine.Current()),
	}
	if id, err := s.identity(); err == nil {
		resp["logged_in"] = true
		resp["user_id"] = id.UserID
		resp["username"] = id.Username
	} else {
		resp["logged_in"] = false
	}
	if n, err := s.db.ConversationCount(); err == nil {
		resp["conversations"] = n
	}
	if n, err := s.db.MessageCount(); err == nil {
		resp["messages"] = n
	}
	respond(w, http.StatusOK, resp)
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{"online": s.dispatcher.OnlineUsers()})
}

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	counts, err := s.db.UnreadCounts()
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"unread": counts})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	convs, err := s.db.ListConversations(limit, offset)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	before, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := s.db.ListMessages(key, before, limit)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if id, err := s.identity(); err == nil && !store.KeyInvolves(key, id.UserID) {
		respondErr(w, http.StatusBadRequest, errors.New("conversation does not involve the logged-in user"))
		return
	}
	if err := s.dispatcher.OpenConversation(key); err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"open": key})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	s.dispatcher.CloseConversation(chi.URLParam(r, "key"))
	respond(w, http.StatusOK, map[string]any{"open": nil})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.db.DeleteConversation(key); err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	if id, err := s.identity(); err == nil {
		if peer := store.PeerID(key, id.UserID); peer != "" {
			_ = s.db.ClearUnread(peer)
		}
	}
	s.bus.Publish(bus.KindMessageRemoved, map[string]any{"chat_key": key, "conversation": true})
	respond(w, http.StatusOK, map[string]any{"deleted": key})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToUserID string `json:"to_user_id"`
		Body     string `json:"body"`
		FileData string `json:"file_data"`
		FileName string `json:"file_name"`
		FileType string `json:"file_type"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if req.ToUserID == "" {
		respondErr(w, http.StatusBadRequest, errors.New("to_user_id is required"))
		return
	}
	var att *outbox.Attachment
	if req.FileData != "" {
		att = &outbox.Attachment{Data: req.FileData, Name: req.FileName, Type: req.FileType}
	}
	id, err := s.sender.Queue(req.ToUserID, req.Body, att)
	if err != nil {
		if errors.Is(err, store.ErrEmptyMessage) {
			respondErr(w, http.StatusBadRequest, err)
			return
		}
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusAccepted, map[string]any{"client_msg_id": id})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatKey     string   `json:"chat_key"`
		Timestamps  []string `json:"timestamps"`
		ForEveryone bool     `json:"for_everyone"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if req.ChatKey == "" || len(req.Timestamps) == 0 {
		respondErr(w, http.StatusBadRequest, errors.New("chat_key and timestamps are required"))
		return
	}
	if req.ForEveryone {
		frame := &ws.DeleteForEveryoneFrame{
			Type:       ws.TypeDeleteForEveryone,
			ChatKey:    req.ChatKey,
			Timestamps: req.Timestamps,
		}
		if err := s.manager.Send(frame); err != nil {
			respondErr(w, http.StatusConflict, err)
			return
		}
	}
	if err := s.dispatcher.DeleteMessages(req.ChatKey, req.Timestamps); err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"deleted": len(req.Timestamps)})
}

func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToUserID string `json:"to_user_id"`
		Typing   bool   `json:"typing"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.identity()
	if err != nil {
		respondErr(w, http.StatusUnauthorized, err)
		return
	}
	frameType := ws.TypeStopTyping
	if req.Typing {
		frameType = ws.TypeTyping
	}
	frame := &ws.TypingFrame{
		Type:       frameType,
		FromUserID: id.UserID,
		ToUserID:   req.ToUserID,
		Username:   id.Username,
	}
	if err := s.manager.Send(frame); err != nil {
		respondErr(w, http.StatusConflict, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleFriends(w http.ResponseWriter, r *http.Request) {
	friends, err := s.db.ListFriends()
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"friends": friends})
}

func (s *Server) handleFriendAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		respondErr(w, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}
	if err := s.syncer.Add(r.Context(), req.UserID); err != nil {
		respondErr(w, http.StatusBadGateway, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"added": req.UserID})
}

func (s *Server) handleFriendsRefresh(w http.ResponseWriter, r *http.Request) {
	n, err := s.syncer.Refresh(r.Context())
	if err != nil {
		respondErr(w, http.StatusBadGateway, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"count": n})
}

func (s *Server) handleFriendAlias(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Alias string `json:"alias"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	userID := chi.URLParam(r, "id")
	ok, err := s.syncer.SetAlias(r.Context(), userID, req.Alias)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		respondErr(w, http.StatusNotFound, errors.New("not a friend"))
		return
	}
	respond(w, http.StatusOK, map[string]any{"user_id": userID, "alias": req.Alias})
}

func (s *Server) handleFriendRemove(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	ok, err := s.syncer.Remove(r.Context(), userID)
	if err != nil {
		respondErr(w, http.StatusBadGateway, err)
		return
	}
	if !ok {
		respondErr(w, http.StatusNotFound, errors.New("not a friend"))
		return
	}
	respond(w, http.StatusOK, map[string]any{"removed": userID})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		respondErr(w, http.StatusBadRequest, errors.New("q is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := s.db.SearchMessages(q, r.URL.Query().Get("chat_key"), limit)
	if err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.client.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		var apiErr *profile.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			respondErr(w, http.StatusUnauthorized, err)
			return
		}
		respondErr(w, http.StatusBadGateway, err)
		return
	}
	if err := session.SaveIdentity(s.params.SessionName, id); err != nil {
		respondErr(w, http.StatusInternalServerError, err)
		return
	}

	s.dispatcher.SetIdentity(id.UserID)
	s.sender.SetIdentity(id.UserID, id.Username)

	connected := true
	if err := s.manager.Connect(id); err != nil {
		s.logger.Warn("connect after login failed", zap.Error(err))
		connected = false
	}
	// The refresh outlives the request; it runs on its own deadline.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.syncer.Refresh(ctx); err != nil {
			s.logger.Warn("friends refresh after login failed", zap.Error(err))
		}
	}()

	respond(w, http.StatusOK, map[string]any{
		"user_id":   id.UserID,
		"username":  id.Username,
		"connected": connected,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.teardownSession()
	respond(w, http.StatusOK, map[string]any{"logged_out": true})
}

// teardownSession ends the logged-in session: the connection is closed, the
// credentials and server-derived caches are cleared, conversations and
// messages stay on disk. Shared by explicit logout and the delayed
// force-logout path.
func (s *Server) teardownSession() {
	s.manager.Logout()
	s.dispatcher.ClearPresence()
	if err := s.db.ClearSessionState(); err != nil {
		s.logger.Error("failed to clear session state", zap.Error(err))
	}
	if err := session.ClearIdentity(s.params.SessionName); err != nil {
		s.logger.Error("failed to clear credentials", zap.Error(err))
	}
	s.client.SetToken("")
	s.dispatcher.SetIdentity("")
	s.sender.SetIdentity("", "")
	s.bus.Publish(bus.KindSessionLoggedOut, nil)
}
