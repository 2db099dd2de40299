package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"clinic-realtime/internal/auth"
	"clinic-realtime/internal/chat"
	"clinic-realtime/internal/mocks"
	"clinic-realtime/internal/realtime"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	doctor  = auth.Identity{SubjectID: "doc-1", Role: auth.RoleDoctor}
	patient = auth.Identity{SubjectID: "pat-1", Role: auth.RolePatient}
	other   = auth.Identity{SubjectID: "pat-2", Role: auth.RolePatient}
)

type sink struct {
	mu     sync.Mutex
	frames []realtime.Envelope
}

func (s *sink) Send(frame []byte) bool {
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return false
	}
	var msg chat.Message
	_ = json.Unmarshal(env.Data, &msg)

	s.mu.Lock()
	s.frames = append(s.frames, realtime.Envelope{Event: env.Event, Data: msg})
	s.mu.Unlock()
	return true
}

func (s *sink) Close() {}

func (s *sink) messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, 0, len(s.frames))
	for _, f := range s.frames {
		if f.Event == chat.EventReceiveMessage {
			out = append(out, f.Data.(chat.Message))
		}
	}
	return out
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store    *chat.MemoryStore
	registry *realtime.Registry
	service  *chat.Service
}

func newFixture() *fixture {
	store := chat.NewMemoryStore()
	store.AddConversation(chat.Conversation{ID: 42, DoctorID: doctor.SubjectID, PatientID: patient.SubjectID})
	registry := realtime.NewRegistry(discard())
	return &fixture{
		store:    store,
		registry: registry,
		service:  chat.NewService(store, registry, chat.Config{MaxContentLength: 20, PersistTimeout: time.Second}, discard()),
	}
}

func (f *fixture) connect(t *testing.T, id auth.Identity) (string, *sink) {
	t.Helper()
	connID := uuid.NewString()
	s := &sink{}
	require.NoError(t, f.registry.Register(connID, id, s))
	return connID, s
}

func TestService_SendMessage_BroadcastsToConversationGroup(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture()
	a, sinkA := f.connect(t, doctor)
	b, sinkB := f.connect(t, patient)
	_, sinkC := f.connect(t, other)

	// Given doctor and patient joined chat-42
	req.NoError(f.service.JoinChat(ctx, a, 42))
	req.NoError(f.service.JoinChat(ctx, b, 42))

	// When the doctor sends a message
	msg, err := f.service.SendMessage(ctx, 42, doctor, patient.SubjectID, "hello")
	req.NoError(err)

	// Then both receive the persisted message
	for _, s := range []*sink{sinkA, sinkB} {
		got := s.messages()
		req.Len(got, 1)
		req.Equal(42, got[0].ConversationID)
		req.Equal("hello", got[0].Content)
		req.False(got[0].IsRead)
		req.False(got[0].Timestamp.IsZero())
		req.Equal(msg.ID, got[0].ID)
	}
	// And an outsider does not
	req.Empty(sinkC.messages())
}

func TestService_SendMessage_UnauthenticatedPersistsNothing(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture()
	a, sinkA := f.connect(t, doctor)
	req.NoError(f.service.JoinChat(ctx, a, 42))

	_, err := f.service.SendMessage(ctx, 42, auth.Identity{}, patient.SubjectID, "hello")

	req.ErrorIs(err, chat.ErrUnauthenticated)
	req.Empty(sinkA.messages())
	stored, err := f.store.ListMessages(ctx, 42, 0)
	req.NoError(err)
	req.Empty(stored)
}

func TestService_SendMessage_SequentialTimestampsAndOrder(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture()
	frozen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.service.SetClock(func() time.Time { return frozen })
	b, sinkB := f.connect(t, patient)
	req.NoError(f.service.JoinChat(ctx, b, 42))

	first, err := f.service.SendMessage(ctx, 42, doctor, patient.SubjectID, "one")
	req.NoError(err)
	second, err := f.service.SendMessage(ctx, 42, doctor, patient.SubjectID, "two")
	req.NoError(err)

	req.True(second.Timestamp.After(first.Timestamp))
	got := sinkB.messages()
	req.Len(got, 2)
	req.Equal("one", got[0].Content)
	req.Equal("two", got[1].Content)
}

func TestService_SendMessage_ConcurrentSendsKeepPersistOrder(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture()
	a, sinkA := f.connect(t, doctor)
	req.NoError(f.service.JoinChat(ctx, a, 42))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.service.SendMessage(ctx, 42, patient, doctor.SubjectID, "hi")
		}()
	}
	wg.Wait()

	got := sinkA.messages()
	req.Len(got, 20)
	for i := 1; i < len(got); i++ {
		req.Greater(got[i].ID, got[i-1].ID)
		req.True(got[i].Timestamp.After(got[i-1].Timestamp))
	}
}

func TestService_SendMessage_DisconnectedSubscriberMissesBroadcast(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture()
	a, sinkA := f.connect(t, doctor)
	b, sinkB := f.connect(t, patient)
	req.NoError(f.service.JoinChat(ctx, a, 42))
	req.NoError(f.service.JoinChat(ctx, b, 42))

	// Given the doctor disconnected
	f.registry.Unregister(a)

	// When the patient sends a message
	_, err := f.service.SendMessage(ctx, 42, patient, doctor.SubjectID, "are you there")
	req.NoError(err)

	// Then only remaining subscribers receive it
	req.Empty(sinkA.messages())
	req.Len(sinkB.messages(), 1)
}

func TestService_SendMessage_Rejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	t.Run("sender outside the pair", func(t *testing.T) {
		_, err := f.service.SendMessage(ctx, 42, other, doctor.SubjectID, "hi")
		require.ErrorIs(t, err, chat.ErrNotParticipant)
	})

	t.Run("receiver outside the pair", func(t *testing.T) {
		_, err := f.service.SendMessage(ctx, 42, doctor, other.SubjectID, "hi")
		require.ErrorIs(t, err, chat.ErrNotParticipant)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		_, err := f.service.SendMessage(ctx, 7, doctor, patient.SubjectID, "hi")
		require.ErrorIs(t, err, chat.ErrConversationNotFound)
	})

	t.Run("blank content", func(t *testing.T) {
		_, err := f.service.SendMessage(ctx, 42, doctor, patient.SubjectID, "   ")
		require.ErrorIs(t, err, chat.ErrInvalidMessage)
	})

	t.Run("content too long", func(t *testing.T) {
		_, err := f.service.SendMessage(ctx, 42, doctor, patient.SubjectID, strings.Repeat("x", 21))
		require.ErrorIs(t, err, chat.ErrInvalidMessage)
	})
}

func TestService_SendMessage_PersistenceFailureIsNotBroadcast(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	registry := realtime.NewRegistry(discard())
	svc := chat.NewService(mockStore, registry, chat.Config{}, discard())

	connID := uuid.NewString()
	s := &sink{}
	req.NoError(registry.Register(connID, doctor, s))

	conv := chat.Conversation{ID: 42, DoctorID: doctor.SubjectID, PatientID: patient.SubjectID}
	// Given the conversation is cached after the first lookup
	mockStore.EXPECT().GetConversation(gomock.Any(), 42).Return(conv, nil).Times(1)
	// And the store is unreachable
	mockStore.EXPECT().PersistMessage(gomock.Any(), gomock.Any()).
		Return(chat.Message{}, errors.New("connection refused")).
		Times(1)

	req.NoError(svc.JoinChat(ctx, connID, 42))

	// When the doctor sends a message
	_, err := svc.SendMessage(ctx, 42, doctor, patient.SubjectID, "hello")

	// Then the failure propagates and nothing is delivered
	req.ErrorIs(err, chat.ErrPersistence)
	req.Empty(s.messages())
}

func TestService_SendMessage_UsesServerTimestamp(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockStore(ctrl)
	svc := chat.NewService(mockStore, realtime.NewRegistry(discard()), chat.Config{}, discard())
	now := time.Date(2026, 5, 6, 7, 8, 9, 123456789, time.UTC)
	svc.SetClock(func() time.Time { return now })

	mockStore.EXPECT().GetConversation(gomock.Any(), 42).
		Return(chat.Conversation{ID: 42, DoctorID: doctor.SubjectID, PatientID: patient.SubjectID}, nil)
	mockStore.EXPECT().PersistMessage(gomock.Any(), chat.NewMessage{
		ConversationID: 42,
		SenderID:       doctor.SubjectID,
		ReceiverID:     patient.SubjectID,
		Content:        "hello",
		SentAt:         now.Truncate(time.Microsecond),
	}).Return(chat.Message{ID: 1, ConversationID: 42}, nil)

	_, err := svc.SendMessage(context.Background(), 42, doctor, patient.SubjectID, " hello ")
	req.NoError(err)
}

func TestService_JoinChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	t.Run("participant joins", func(t *testing.T) {
		connID, _ := f.connect(t, patient)
		require.NoError(t, f.service.JoinChat(ctx, connID, 42))
		require.Contains(t, f.registry.GroupsOf(connID), realtime.ChatGroup(42))
	})

	t.Run("outsider is rejected", func(t *testing.T) {
		connID, _ := f.connect(t, other)
		err := f.service.JoinChat(ctx, connID, 42)
		require.ErrorIs(t, err, realtime.ErrUnauthorizedGroupJoin)
		require.Empty(t, f.registry.GroupsOf(connID))
	})

	t.Run("unknown connection", func(t *testing.T) {
		err := f.service.JoinChat(ctx, "gone", 42)
		require.ErrorIs(t, err, realtime.ErrUnknownConnection)
	})

	t.Run("leave is idempotent", func(t *testing.T) {
		connID, _ := f.connect(t, doctor)
		require.NoError(t, f.service.JoinChat(ctx, connID, 42))
		require.NoError(t, f.service.LeaveChat(ctx, connID, 42))
		require.NoError(t, f.service.LeaveChat(ctx, connID, 42))
		require.Empty(t, f.registry.GroupsOf(connID))
	})
}

func TestService_History(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture()

	for _, content := range []string{"a", "b", "c"} {
		_, err := f.service.SendMessage(ctx, 42, doctor, patient.SubjectID, content)
		req.NoError(err)
	}

	msgs, err := f.service.History(ctx, patient, 42, 2)
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal("b", msgs[0].Content)
	req.Equal("c", msgs[1].Content)

	_, err = f.service.History(ctx, other, 42, 2)
	req.ErrorIs(err, chat.ErrNotParticipant)
}

func TestService_ForgetsIdleConversations(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture()
	f.store.AddConversation(chat.Conversation{ID: 43, DoctorID: doctor.SubjectID, PatientID: other.SubjectID})

	var mu sync.Mutex
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.service.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	// Given a message in conversation 42
	first, err := f.service.SendMessage(ctx, 42, doctor, patient.SubjectID, "one")
	req.NoError(err)
	conversations, timestamps := f.service.Tracked()
	req.Equal(1, conversations)
	req.Equal(1, timestamps)

	// When conversation 42 stays idle while 43 is active
	advance(11 * time.Minute)
	_, err = f.service.SendMessage(ctx, 43, doctor, other.SubjectID, "two")
	req.NoError(err)

	// Then only conversation 43 is still tracked
	conversations, timestamps = f.service.Tracked()
	req.Equal(1, conversations)
	req.Equal(1, timestamps)

	// And conversation 42 keeps working with later timestamps
	again, err := f.service.SendMessage(ctx, 42, patient, doctor.SubjectID, "three")
	req.NoError(err)
	req.True(again.Timestamp.After(first.Timestamp))
	conversations, timestamps = f.service.Tracked()
	req.Equal(2, conversations)
	req.Equal(2, timestamps)
}
