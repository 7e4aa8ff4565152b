// Package storage implements every store collaborator on a single
// sqlite database. The delivery core never sees SQL; it talks to the
// interfaces in internal/core.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/avdeev/Courier/internal/core"
	"github.com/avdeev/Courier/internal/domain"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Store struct {
	db *sql.DB
}

// Open creates (or opens) the database at path and applies migrations.
// ":memory:" is accepted for tests.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; readers queue behind busy_timeout.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ---- users ----

func (s *Store) CreateUser(ctx context.Context, username, passwordHash, email, displayName string) (*domain.User, error) {
	if err := domain.ValidateUsername(username); err != nil {
		return nil, err
	}
	if _, err := s.UserByUsername(ctx, username); err == nil {
		return nil, core.ErrDuplicate
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, password, display_name, email) VALUES(?,?,?,?)`,
		username, passwordHash, displayName, email,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.User{ID: domain.UserID(id), Username: username, DisplayName: displayName, Email: email}, nil
}

func (s *Store) scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var disabled int
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.Bio, &disabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Disabled = disabled != 0
	return &u, nil
}

func (s *Store) UserByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, email, bio, disabled FROM users WHERE id = ?`, id))
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, email, bio, disabled FROM users WHERE username = ?`, username))
}

func (s *Store) PasswordHash(ctx context.Context, username string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password FROM users WHERE username = ?`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrNotFound
	}
	return hash, err
}

// ---- groups ----

func (s *Store) CreateGroup(ctx context.Context, address, name string) (*domain.Group, error) {
	if _, err := s.GroupByAddress(ctx, address); err == nil {
		return nil, core.ErrDuplicate
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO groups(address, name) VALUES(?,?)`, address, name)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.Group{ID: domain.GroupID(id), Address: address, Name: name}, nil
}

func (s *Store) scanGroup(row *sql.Row) (*domain.Group, error) {
	var g domain.Group
	err := row.Scan(&g.ID, &g.Address, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) GroupByID(ctx context.Context, id domain.GroupID) (*domain.Group, error) {
	return s.scanGroup(s.db.QueryRowContext(ctx, `SELECT id, address, name FROM groups WHERE id = ?`, id))
}

func (s *Store) GroupByAddress(ctx context.Context, address string) (*domain.Group, error) {
	return s.scanGroup(s.db.QueryRowContext(ctx, `SELECT id, address, name FROM groups WHERE address = ?`, address))
}

func (s *Store) JoinGroup(ctx context.Context, userID domain.UserID, groupID domain.GroupID, role domain.Role) error {
	if role == "" {
		role = domain.RoleMember
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO group_members(user_id, group_id, role) VALUES(?,?,?)
		 ON CONFLICT(user_id, group_id) DO NOTHING`,
		userID, groupID, string(role),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrDuplicate
	}
	return nil
}

func (s *Store) IsMember(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM group_members WHERE user_id = ? AND group_id = ?`, userID, groupID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) MembersOf(ctx context.Context, groupID domain.GroupID) ([]*domain.GroupMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.username, u.display_name, gm.role
		 FROM group_members gm JOIN users u ON u.id = gm.user_id
		 WHERE gm.group_id = ?`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.GroupMember
	for rows.Next() {
		u := &domain.User{}
		var role string
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &role); err != nil {
			return nil, err
		}
		out = append(out, domain.NewGroupMember(u, domain.Role(role)))
	}
	return out, rows.Err()
}

func (s *Store) GroupsOf(ctx context.Context, userID domain.UserID) ([]*domain.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.id, g.address, g.name
		 FROM group_members gm JOIN groups g ON g.id = gm.group_id
		 WHERE gm.user_id = ? ORDER BY g.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.Address, &g.Name); err != nil {
			return nil, err
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

// ---- messages ----

func (s *Store) CreateMessage(ctx context.Context, senderID domain.UserID, senderName string, groupID domain.GroupID, text string) (*domain.Message, error) {
	createdAt := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(group_id, sender_id, sender_name, text, created_at) VALUES(?,?,?,?,?)`,
		groupID, senderID, senderName, text, createdAt,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.Message{
		ID:         domain.MessageID(id),
		GroupID:    groupID,
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
		CreatedAt:  parseTime(createdAt),
	}, nil
}

func (s *Store) MessageByID(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	var m domain.Message
	var createdAt string
	var deleted int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, group_id, sender_id, sender_name, text, created_at, deleted FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.GroupID, &m.SenderID, &m.SenderName, &m.Text, &createdAt, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.CreatedAt = parseTime(createdAt)
	m.Deleted = deleted != 0
	return &m, nil
}

func (s *Store) UpdateText(ctx context.Context, id domain.MessageID, newText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET text = ? WHERE id = ? AND deleted = 0`, newText, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Tombstone clears the text but keeps the row so the id stays resolvable.
func (s *Store) Tombstone(ctx context.Context, id domain.MessageID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET deleted = 1, text = '' WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) ReadMessages(ctx context.Context, userID domain.UserID, groupID domain.GroupID) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, sender_id, sender_name, text, created_at FROM messages
		 WHERE group_id = ? AND deleted = 0
		   AND id NOT IN (SELECT message_id FROM backlog WHERE user_id = ?)
		 ORDER BY id`, groupID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	var out []*domain.Message
	for rows.Next() {
		var m domain.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.SenderName, &m.Text, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ---- change log ----

func (s *Store) RecordChange(ctx context.Context, ch *domain.Change) error {
	createdAt := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO changes(change_type, new_text, original_text, sender_id, group_id, created_at)
		 VALUES(?,?,?,?,?,?)`,
		string(ch.Type), ch.NewText, ch.OriginalText, ch.SenderID, ch.GroupID, createdAt,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ch.ID = id
	ch.CreatedAt = parseTime(createdAt)
	return nil
}

func (s *Store) ChangesByGroup(ctx context.Context, groupID domain.GroupID) ([]*domain.Change, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, change_type, new_text, original_text, sender_id, group_id, created_at
		 FROM changes WHERE group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Change
	for rows.Next() {
		var ch domain.Change
		var typ, createdAt string
		if err := rows.Scan(&ch.ID, &typ, &ch.NewText, &ch.OriginalText, &ch.SenderID, &ch.GroupID, &createdAt); err != nil {
			return nil, err
		}
		ch.Type = domain.ChangeType(typ)
		ch.CreatedAt = parseTime(createdAt)
		out = append(out, &ch)
	}
	return out, rows.Err()
}

func (s *Store) DeleteChangesByGroup(ctx context.Context, groupID domain.GroupID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM changes WHERE group_id = ?`, groupID)
	return err
}

// ---- backlog ----

func (s *Store) Enqueue(ctx context.Context, userID domain.UserID, messageID domain.MessageID, groupID domain.GroupID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO backlog(user_id, message_id, group_id) VALUES(?,?,?)
		 ON CONFLICT(user_id, message_id) DO NOTHING`,
		userID, messageID, groupID,
	)
	return err
}

func (s *Store) Dequeue(ctx context.Context, userID domain.UserID, messageID domain.MessageID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM backlog WHERE user_id = ? AND message_id = ?`, userID, messageID)
	return err
}

func (s *Store) BacklogFor(ctx context.Context, userID domain.UserID, groupID domain.GroupID) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.group_id, m.sender_id, m.sender_name, m.text, m.created_at
		 FROM backlog b JOIN messages m ON m.id = b.message_id
		 WHERE b.user_id = ? AND b.group_id = ? AND m.deleted = 0
		 ORDER BY m.id`, userID, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Store) RemoveForMessage(ctx context.Context, messageID domain.MessageID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM backlog WHERE message_id = ?`, messageID)
	return err
}

func (s *Store) FirstUnread(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (domain.MessageID, bool, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(b.message_id) FROM backlog b JOIN messages m ON m.id = b.message_id
		 WHERE b.user_id = ? AND b.group_id = ? AND m.deleted = 0`, userID, groupID).Scan(&id)
	if err != nil {
		return 0, false, err
	}
	if !id.Valid {
		return 0, false, nil
	}
	return domain.MessageID(id.Int64), true, nil
}

func (s *Store) UnreadFor(ctx context.Context, userID domain.UserID) ([]domain.BacklogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, message_id, group_id FROM backlog WHERE user_id = ? ORDER BY message_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.BacklogEntry
	for rows.Next() {
		var e domain.BacklogEntry
		if err := rows.Scan(&e.UserID, &e.MessageID, &e.GroupID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
