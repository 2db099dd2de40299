//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_chat_store.go -package=mocks
package chat

import "context"

// Store is the Message Persistence Gateway.
type Store interface {
	GetConversation(ctx context.Context, conversationID int) (Conversation, error)
	PersistMessage(ctx context.Context, msg NewMessage) (Message, error)
	ListMessages(ctx context.Context, conversationID int, limit int) ([]Message, error)
}
