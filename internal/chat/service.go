package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"clinic-realtime/internal/auth"
	"clinic-realtime/internal/realtime"
)

// Groups is the part of the connection registry the chat service drives.
type Groups interface {
	IdentityOf(connID string) (auth.Identity, error)
	Join(connID, group string, requester auth.Identity) error
	Leave(connID, group string)
	SendToGroup(group, event string, payload any) int
}

const (
	// A conversation idle this long is fetched from the store again.
	conversationTTL = 10 * time.Minute
	// Timestamps this old are behind any clock reading still to come.
	timestampTTL = time.Minute
)

type Config struct {
	MaxContentLength int
	PersistTimeout   time.Duration
}

// Service validates, persists and then fans out chat messages.
type Service struct {
	store  Store
	groups Groups
	log    *slog.Logger
	cfg    Config
	now    func() time.Time

	locks *keyedMutex

	// mu guards the two per-conversation maps below; sweep evicts idle entries.
	mu sync.Mutex
	// conversations never change their doctor/patient pair once created.
	conversations map[int]cachedConversation
	lastSent      map[int]time.Time
	lastSweep     time.Time
}

type cachedConversation struct {
	conv Conversation
	seen time.Time
}

func NewService(store Store, groups Groups, cfg Config, log *slog.Logger) *Service {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &Service{
		store:    store,
		groups:   groups,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
		locks:         newKeyedMutex(),
		conversations: make(map[int]cachedConversation),
		lastSent:      make(map[int]time.Time),
	}
}

// SendMessage runs Validate -> Persist -> Broadcast. Persist and broadcast are
// serialized per conversation, so subscribers see messages in persist order.
// Nothing is broadcast when persistence fails.
func (s *Service) SendMessage(ctx context.Context, conversationID int, sender auth.Identity, receiverID, content string) (Message, error) {
	if sender.IsZero() {
		return Message{}, ErrUnauthenticated
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}
	if s.cfg.MaxContentLength > 0 && utf8.RuneCountInString(content) > s.cfg.MaxContentLength {
		return Message{}, fmt.Errorf("%w: content longer than %d characters", ErrInvalidMessage, s.cfg.MaxContentLength)
	}

	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return Message{}, err
	}
	if other, ok := conv.Counterpart(sender.SubjectID); !ok || other != receiverID {
		return Message{}, ErrNotParticipant
	}

	unlock := s.locks.Lock(conversationID)
	defer unlock()

	persistCtx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()

	msg, err := s.store.PersistMessage(persistCtx, NewMessage{
		ConversationID: conversationID,
		SenderID:       sender.SubjectID,
		ReceiverID:     receiverID,
		Content:        content,
		SentAt:         s.nextTimestamp(conversationID),
	})
	if err != nil {
		if !errors.Is(err, ErrNotParticipant) && !errors.Is(err, ErrPersistence) {
			err = fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		s.log.Warn("persist message failed", "conversation_id", conversationID, "subject", sender.SubjectID, "error", err)
		return Message{}, err
	}

	delivered := s.groups.SendToGroup(realtime.ChatGroup(conversationID), EventReceiveMessage, msg)
	s.log.Debug("message broadcast", "conversation_id", conversationID, "message_id", msg.ID, "delivered", delivered)
	return msg, nil
}

// JoinChat admits the connection to the conversation group only if its
// identity is the doctor or the patient of the conversation.
func (s *Service) JoinChat(ctx context.Context, connID string, conversationID int) error {
	id, err := s.groups.IdentityOf(connID)
	if err != nil {
		return err
	}
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(id.SubjectID) {
		return fmt.Errorf("%w: conversation %d", realtime.ErrUnauthorizedGroupJoin, conversationID)
	}
	return s.groups.Join(connID, realtime.ChatGroup(conversationID), id)
}

func (s *Service) LeaveChat(_ context.Context, connID string, conversationID int) error {
	s.groups.Leave(connID, realtime.ChatGroup(conversationID))
	return nil
}

// History returns the latest persisted messages for a participant.
func (s *Service) History(ctx context.Context, requester auth.Identity, conversationID, limit int) ([]Message, error) {
	if requester.IsZero() {
		return nil, ErrUnauthenticated
	}
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(requester.SubjectID) {
		return nil, ErrNotParticipant
	}
	return s.store.ListMessages(ctx, conversationID, limit)
}

func (s *Service) conversation(ctx context.Context, id int) (Conversation, error) {
	s.mu.Lock()
	if c, ok := s.conversations[id]; ok {
		c.seen = s.now()
		s.conversations[id] = c
		s.mu.Unlock()
		return c.conv, nil
	}
	s.mu.Unlock()

	c, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.conversations[id] = cachedConversation{conv: c, seen: now}
	s.sweep(now)
	return c, nil
}

// nextTimestamp is strictly greater than the previous one handed out for the
// conversation, at the microsecond precision PostgreSQL stores.
// Caller holds the conversation lock.
func (s *Service) nextTimestamp(conversationID int) time.Time {
	now := s.now()
	ts := now.UTC().Truncate(time.Microsecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastSent[conversationID]; ok && !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	s.lastSent[conversationID] = ts
	s.sweep(now)
	return ts
}

// sweep runs at most once per timestampTTL. Caller holds mu.
func (s *Service) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < timestampTTL {
		return
	}
	s.lastSweep = now

	for id, last := range s.lastSent {
		if now.Sub(last) > timestampTTL {
			delete(s.lastSent, id)
		}
	}
	for id, c := range s.conversations {
		if now.Sub(c.seen) > conversationTTL {
			delete(s.conversations, id)
		}
	}
}
