package store

import "strings"

const chatKeyPrefix = "chat_"

// ChatKey derives the conversation key for a pair of user IDs. The pair is
// sorted so both sides derive the same key; a self-chat (personal notes)
// uses the single identifier.
func ChatKey(a, b string) string {
	if a == b {
		return chatKeyPrefix + a
	}
	if a > b {
		a, b = b, a
	}
	return chatKeyPrefix + a + "_" + b
}

// PeerID extracts the other participant from a conversation key. For a
// self-chat key it returns selfID. Returns "" if the key does not involve
// selfID at all.
func PeerID(chatKey, selfID string) string {
	raw, ok := strings.CutPrefix(chatKey, chatKeyPrefix)
	if !ok {
		return ""
	}
	parts := strings.SplitN(raw, "_", 2)
	if len(parts) == 1 {
		if parts[0] == selfID {
			return selfID
		}
		return ""
	}
	switch selfID {
	case parts[0]:
		return parts[1]
	case parts[1]:
		return parts[0]
	}
	return ""
}

// KeyInvolves reports whether a conversation key references the given user.
func KeyInvolves(chatKey, userID string) bool {
	raw, ok := strings.CutPrefix(chatKey, chatKeyPrefix)
	if !ok {
		return false
	}
	for _, part := range strings.SplitN(raw, "_", 2) {
		if part == userID {
			return true
		}
	}
	return false
}
