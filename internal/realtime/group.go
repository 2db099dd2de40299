package realtime

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	chatGroupPrefix    = "chat-"
	sessionGroupPrefix = "session-"
)

// ChatGroup is the broadcast group of a doctor/patient conversation.
func ChatGroup(conversationID int) string {
	return fmt.Sprintf("%s%d", chatGroupPrefix, conversationID)
}

// SessionGroup is the broadcast group of a bookable session queue.
func SessionGroup(sessionID int) string {
	return fmt.Sprintf("%s%d", sessionGroupPrefix, sessionID)
}

// ParseGroup splits a group name back into its kind and entity id.
func ParseGroup(name string) (kind string, id int, ok bool) {
	for _, prefix := range []string{chatGroupPrefix, sessionGroupPrefix} {
		rest, found := strings.CutPrefix(name, prefix)
		if !found {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 {
			return "", 0, false
		}
		return strings.TrimSuffix(prefix, "-"), n, true
	}
	return "", 0, false
}
