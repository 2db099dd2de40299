package chat

import "time"

// EventReceiveMessage is pushed to every member of a conversation group.
const EventReceiveMessage = "ReceiveMessage"

// Conversation pairs exactly one doctor with one patient.
type Conversation struct {
	ID        int       `json:"id"`
	DoctorID  string    `json:"doctorId"`
	PatientID string    `json:"patientId"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasParticipant reports whether subjectID is the doctor or the patient.
func (c Conversation) HasParticipant(subjectID string) bool {
	return subjectID != "" && (subjectID == c.DoctorID || subjectID == c.PatientID)
}

// Counterpart returns the other party of the conversation.
func (c Conversation) Counterpart(subjectID string) (string, bool) {
	switch subjectID {
	case c.DoctorID:
		return c.PatientID, true
	case c.PatientID:
		return c.DoctorID, true
	default:
		return "", false
	}
}

// Message is a persisted chat message as broadcast and as returned by history.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int       `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	IsRead         bool      `json:"isRead"`
}

// NewMessage is what the service hands to the store. SentAt is always
// assigned by the server.
type NewMessage struct {
	ConversationID int
	SenderID       string
	ReceiverID     string
	Content        string
	SentAt         time.Time
}
