package store

import "testing"

func TestChatKey(t *testing.T) {
	tests := []struct {
		a, b, want string
	}{
		{"alice1", "bob2", "chat_alice1_bob2"},
		{"bob2", "alice1", "chat_alice1_bob2"},
		{"u1", "u1", "chat_u1"},
	}
	for _, tt := range tests {
		if got := ChatKey(tt.a, tt.b); got != tt.want {
			t.Errorf("ChatKey(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestPeerID(t *testing.T) {
	tests := []struct {
		key, self, want string
	}{
		{"chat_alice1_bob2", "alice1", "bob2"},
		{"chat_alice1_bob2", "bob2", "alice1"},
		{"chat_u1", "u1", "u1"},
		{"chat_alice1_bob2", "carol3", ""},
		{"not_a_chat_key", "alice1", ""},
	}
	for _, tt := range tests {
		if got := PeerID(tt.key, tt.self); got != tt.want {
			t.Errorf("PeerID(%q, %q) = %q, want %q", tt.key, tt.self, got, tt.want)
		}
	}
}

func TestKeyInvolves(t *testing.T) {
	if !KeyInvolves("chat_alice1_bob2", "bob2") {
		t.Error("bob2 should be involved")
	}
	if KeyInvolves("chat_alice1_bob2", "carol3") {
		t.Error("carol3 should not be involved")
	}
	if !KeyInvolves("chat_u1", "u1") {
		t.Error("self-chat key should involve its owner")
	}
}
