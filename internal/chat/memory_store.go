package chat

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps conversations and messages in process memory.
// It backs local runs without PostgreSQL and the test suites.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[int]Conversation
	messages      map[int][]Message
	nextID        int64
	failPersist   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[int]Conversation),
		messages:      make(map[int][]Message),
	}
}

// AddConversation seeds a doctor/patient pairing.
func (m *MemoryStore) AddConversation(c Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
}

// SetFailPersist makes subsequent PersistMessage calls return ErrPersistence.
func (m *MemoryStore) SetFailPersist(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPersist = fail
}

func (m *MemoryStore) GetConversation(_ context.Context, conversationID int) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return Conversation{}, fmt.Errorf("%w: %d", ErrConversationNotFound, conversationID)
	}
	return c, nil
}

func (m *MemoryStore) PersistMessage(ctx context.Context, msg NewMessage) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failPersist {
		return Message{}, ErrPersistence
	}
	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return Message{}, fmt.Errorf("%w: %d", ErrConversationNotFound, msg.ConversationID)
	}
	if other, ok := c.Counterpart(msg.SenderID); !ok || other != msg.ReceiverID {
		return Message{}, ErrNotParticipant
	}

	m.nextID++
	out := Message{
		ID:             m.nextID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		Timestamp:      msg.SentAt,
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], out)
	return out, nil
}

func (m *MemoryStore) ListMessages(_ context.Context, conversationID int, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.messages[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]Message(nil), all...), nil
}
