package domain

import "time"

type MessageID int64

// Message is immutable once created except for two mutations: text
// replacement (edit) and tombstoning (delete). A tombstoned message
// keeps its id so references and change records stay resolvable.
type Message struct {
	ID         MessageID `json:"id"`
	GroupID    GroupID   `json:"group_id"`
	SenderID   UserID    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
	Deleted    bool      `json:"deleted"`
}

// BacklogEntry means "this user has not yet received this message over a
// live delivery connection". One entry per (user, message) at most.
type BacklogEntry struct {
	UserID    UserID
	MessageID MessageID
	GroupID   GroupID
}

type ChangeType string

const (
	ChangeEdit   ChangeType = "Edit"
	ChangeDelete ChangeType = "Delete"
)

// Change is the durable record of an edit or delete, kept so clients can
// resync history they already drained.
type Change struct {
	ID           int64      `json:"id"`
	Type         ChangeType `json:"type"`
	NewText      string     `json:"new_text"`
	OriginalText string     `json:"original_text"`
	SenderID     UserID     `json:"sender_id"`
	GroupID      GroupID    `json:"group_id"`
	CreatedAt    time.Time  `json:"created_at"`
}
