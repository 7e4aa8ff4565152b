package core

import (
	"time"

	"github.com/avdeev/Courier/internal/domain"
)

const TypeText = "Text"

// TextPayload is the wire shape of one drained backlog message.
type TextPayload struct {
	Text       string           `json:"text"`
	SenderName string           `json:"sender_name"`
	ID         domain.MessageID `json:"id"`
	Type       string           `json:"type"`
	Datetime   string           `json:"datetime"`
}

func NewTextPayload(m *domain.Message) TextPayload {
	return TextPayload{
		Text:       m.Text,
		SenderName: m.SenderName,
		ID:         m.ID,
		Type:       TypeText,
		Datetime:   m.CreatedAt.Format(time.RFC3339),
	}
}

// ChangePayload notifies live delivery connections about an edit or delete.
type ChangePayload struct {
	Type    domain.ChangeType `json:"type"`
	ID      domain.MessageID  `json:"id"`
	NewText string            `json:"new_text"`
}
