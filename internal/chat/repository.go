package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository is the PostgreSQL Store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetConversation(ctx context.Context, conversationID int) (Conversation, error) {
	var c Conversation
	query := "SELECT id, doctor_id, patient_id, created_at FROM conversations WHERE id = $1"

	err := r.db.QueryRowContext(ctx, query, conversationID).Scan(&c.ID, &c.DoctorID, &c.PatientID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, fmt.Errorf("%w: %d", ErrConversationNotFound, conversationID)
		}
		return Conversation{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return c, nil
}

// PersistMessage inserts the row only if sender and receiver are the pair
// of the conversation, so the invariant also holds at the storage level.
func (r *Repository) PersistMessage(ctx context.Context, msg NewMessage) (Message, error) {
	query := `
		INSERT INTO messages (conversation_id, sender_id, receiver_id, content, sent_at, is_read)
		SELECT c.id, $2::text, $3::text, $4::text, $5::timestamptz, FALSE
		FROM conversations c
		WHERE c.id = $1
		  AND (($2::text = c.doctor_id AND $3::text = c.patient_id) OR ($2::text = c.patient_id AND $3::text = c.doctor_id))
		RETURNING id, sent_at, is_read
	`
	out := Message{
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
	}

	err := r.db.QueryRowContext(ctx, query,
		msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content, msg.SentAt,
	).Scan(&out.ID, &out.Timestamp, &out.IsRead)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotParticipant
		}
		return Message{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	out.Timestamp = out.Timestamp.UTC()
	return out, nil
}

// ListMessages returns the latest messages of a conversation, oldest first.
func (r *Repository) ListMessages(ctx context.Context, conversationID int, limit int) ([]Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, receiver_id, content, sent_at, is_read
		FROM (
			SELECT * FROM messages
			WHERE conversation_id = $1
			ORDER BY sent_at DESC, id DESC
			LIMIT $2
		) latest
		ORDER BY sent_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Timestamp, &m.IsRead); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		m.Timestamp = m.Timestamp.UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return messages, nil
}

// EnsureConversation returns the conversation of the pair, creating it if needed.
// Pairings are normally created by the booking layer; seeding tools use this.
func (r *Repository) EnsureConversation(ctx context.Context, doctorID, patientID string) (Conversation, error) {
	query := `
		INSERT INTO conversations (doctor_id, patient_id) VALUES ($1, $2)
		ON CONFLICT (doctor_id, patient_id) DO UPDATE SET doctor_id = EXCLUDED.doctor_id
		RETURNING id, doctor_id, patient_id, created_at
	`
	var c Conversation
	err := r.db.QueryRowContext(ctx, query, doctorID, patientID).Scan(&c.ID, &c.DoctorID, &c.PatientID, &c.CreatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return c, nil
}
