package store

// Conversation is one private chat, keyed by the pair of participants.
type Conversation struct {
	ChatKey            string
	PeerID             string
	LastMessageAt      int64
	LastMessagePreview string
	UnreadCount        int
}

// Message is one cached chat message. SenderName is the name as delivered;
// DisplayName is resolved at read time (friend alias, then friend username,
// then the delivered name) and never stored.
type Message struct {
	ID          int64
	ChatKey     string
	SenderID    string
	SenderName  string
	DisplayName string
	Body        string
	SentAt      string
	FileData    string
	FileURL     string
	FileName    string
	FileType    string
	FromMe      bool
	Status      string
	CreatedAt   int64
}

// HasAttachment reports whether the message carries inline bytes or a
// remote attachment reference.
func (m *Message) HasAttachment() bool {
	return m.FileData != "" || m.FileURL != ""
}

// Friend is one cached friend record. Alias is the local display-name
// override; empty means show the username.
type Friend struct {
	UserID     string
	Username   string
	Alias      string
	ProfilePic string
}

// DisplayName returns the alias when set, otherwise the username.
func (f *Friend) DisplayName() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Username
}

// OutboxEntry is one queued outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatKey      string
	ToUserID     string
	Body         string
	FileData     string
	FileURL      string
	FileName     string
	FileType     string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	CreatedAt    int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
