package chat

import "errors"

var (
	ErrUnauthenticated      = errors.New("unauthenticated sender")
	ErrPersistence          = errors.New("message store unavailable")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("sender and receiver are not the conversation pair")
	ErrInvalidMessage       = errors.New("invalid message")
)
