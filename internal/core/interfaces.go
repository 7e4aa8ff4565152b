package core

import (
	"context"
	"errors"

	"github.com/avdeev/Courier/internal/domain"
)

var (
	// ErrNotFound is returned by stores when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned by stores on unique-key conflicts
	// (username, group address, repeated join).
	ErrDuplicate = errors.New("already exists")
)

// UserStore is the account collaborator. The delivery core only reads it;
// registration writes come from the HTTP surface.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash, email, displayName string) (*domain.User, error)
	UserByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	UserByUsername(ctx context.Context, username string) (*domain.User, error)
	PasswordHash(ctx context.Context, username string) (string, error)
}

// GroupStore answers membership questions for the fan-out and the
// policy checks at connection time.
type GroupStore interface {
	CreateGroup(ctx context.Context, address, name string) (*domain.Group, error)
	GroupByID(ctx context.Context, id domain.GroupID) (*domain.Group, error)
	GroupByAddress(ctx context.Context, address string) (*domain.Group, error)
	JoinGroup(ctx context.Context, userID domain.UserID, groupID domain.GroupID, role domain.Role) error
	IsMember(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (bool, error)
	MembersOf(ctx context.Context, groupID domain.GroupID) ([]*domain.GroupMember, error)
	GroupsOf(ctx context.Context, userID domain.UserID) ([]*domain.Group, error)
}

// MessageStore owns message rows and the durable change log.
type MessageStore interface {
	CreateMessage(ctx context.Context, senderID domain.UserID, senderName string, groupID domain.GroupID, text string) (*domain.Message, error)
	MessageByID(ctx context.Context, id domain.MessageID) (*domain.Message, error)
	UpdateText(ctx context.Context, id domain.MessageID, newText string) error
	Tombstone(ctx context.Context, id domain.MessageID) error
	// ReadMessages lists group messages the user has already drained
	// (everything not sitting in their backlog).
	ReadMessages(ctx context.Context, userID domain.UserID, groupID domain.GroupID) ([]*domain.Message, error)
	RecordChange(ctx context.Context, ch *domain.Change) error
	ChangesByGroup(ctx context.Context, groupID domain.GroupID) ([]*domain.Change, error)
	DeleteChangesByGroup(ctx context.Context, groupID domain.GroupID) error
}

// BacklogStore is the durable undelivered-message queue, keyed by
// (user, message). Enqueue must be idempotent; the drain loop deletes
// entries one by one after each successful socket write.
type BacklogStore interface {
	Enqueue(ctx context.Context, userID domain.UserID, messageID domain.MessageID, groupID domain.GroupID) error
	Dequeue(ctx context.Context, userID domain.UserID, messageID domain.MessageID) error
	// BacklogFor returns the user's pending messages for one group in
	// ascending message-id order, with current text (edits made after
	// enqueue are reflected; tombstoned messages are never returned).
	BacklogFor(ctx context.Context, userID domain.UserID, groupID domain.GroupID) ([]*domain.Message, error)
	RemoveForMessage(ctx context.Context, messageID domain.MessageID) error
	FirstUnread(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (domain.MessageID, bool, error)
	UnreadFor(ctx context.Context, userID domain.UserID) ([]domain.BacklogEntry, error)
}
