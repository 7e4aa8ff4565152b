package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/avdeev/Courier/internal/core"
	"github.com/avdeev/Courier/internal/domain"
)

// MessageMutator orchestrates the two allowed mutations of a message.
// Only the original sender may edit or delete; both record a durable
// change row before the mutation commits, then notify live members.
type MessageMutator struct {
	Messages  core.MessageStore
	Backlog   core.BacklogStore
	Broadcast *Broadcaster
}

func (m *MessageMutator) owned(ctx context.Context, userID domain.UserID, msgID domain.MessageID) (*domain.Message, error) {
	msg, err := m.Messages.MessageByID(ctx, msgID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("message lookup: %w", err)
	}
	if msg.SenderID != userID || msg.Deleted {
		return nil, ErrForbidden
	}
	return msg, nil
}

// Edit replaces the message text. Pending backlog entries pick the new
// text up automatically since drains read current state, not snapshots.
func (m *MessageMutator) Edit(ctx context.Context, userID domain.UserID, msgID domain.MessageID, newText string) (string, error) {
	if len(newText) > domain.MaxTextLen {
		return "", domain.ErrTextTooLong
	}
	msg, err := m.owned(ctx, userID, msgID)
	if err != nil {
		return "", err
	}
	change := &domain.Change{
		Type:         domain.ChangeEdit,
		NewText:      newText,
		OriginalText: msg.Text,
		SenderID:     userID,
		GroupID:      msg.GroupID,
	}
	if err := m.Messages.RecordChange(ctx, change); err != nil {
		return "", fmt.Errorf("record change: %w", err)
	}
	if err := m.Messages.UpdateText(ctx, msgID, newText); err != nil {
		return "", fmt.Errorf("update text: %w", err)
	}
	m.Broadcast.BroadcastChange(ctx, msg.GroupID, domain.ChangeEdit, msgID, newText)
	return newText, nil
}

// Delete tombstones the message. Outstanding backlog entries are removed
// first, so no drain can deliver the original text after the delete
// commits. Offline members get no notice; the change log is their record.
func (m *MessageMutator) Delete(ctx context.Context, userID domain.UserID, msgID domain.MessageID) (string, error) {
	msg, err := m.owned(ctx, userID, msgID)
	if err != nil {
		return "", err
	}
	if err := m.Backlog.RemoveForMessage(ctx, msgID); err != nil {
		return "", fmt.Errorf("remove backlog entries: %w", err)
	}
	change := &domain.Change{
		Type:         domain.ChangeDelete,
		OriginalText: msg.Text,
		SenderID:     userID,
		GroupID:      msg.GroupID,
	}
	if err := m.Messages.RecordChange(ctx, change); err != nil {
		return "", fmt.Errorf("record change: %w", err)
	}
	if err := m.Messages.Tombstone(ctx, msgID); err != nil {
		return "", fmt.Errorf("tombstone: %w", err)
	}
	m.Broadcast.BroadcastChange(ctx, msg.GroupID, domain.ChangeDelete, msgID, "")
	return msg.Text, nil
}
