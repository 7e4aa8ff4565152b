package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/avdeev/Courier/internal/core"
	"github.com/avdeev/Courier/internal/domain"
)

// memStore is an in-memory stand-in for every store collaborator.
type memStore struct {
	mu       sync.Mutex
	users    map[domain.UserID]*domain.User
	members  map[domain.GroupID][]*domain.GroupMember
	messages map[domain.MessageID]*domain.Message
	nextMsg  domain.MessageID
	backlog  map[domain.UserID]map[domain.MessageID]domain.GroupID
	changes  []*domain.Change

	failCreateMessage bool
	failEnqueueFor    domain.UserID
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[domain.UserID]*domain.User),
		members:  make(map[domain.GroupID][]*domain.GroupMember),
		messages: make(map[domain.MessageID]*domain.Message),
		backlog:  make(map[domain.UserID]map[domain.MessageID]domain.GroupID),
	}
}

func (s *memStore) addMember(gid domain.GroupID, u *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	s.members[gid] = append(s.members[gid], domain.NewGroupMember(u, domain.RoleMember))
}

// ---- core.UserStore (the parts the delivery core touches) ----

func (s *memStore) CreateUser(ctx context.Context, username, hash, email, displayName string) (*domain.User, error) {
	return nil, errors.New("not implemented")
}

func (s *memStore) UserByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, core.ErrNotFound
}

func (s *memStore) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *memStore) PasswordHash(ctx context.Context, username string) (string, error) {
	return "", core.ErrNotFound
}

// ---- core.GroupStore ----

func (s *memStore) CreateGroup(ctx context.Context, address, name string) (*domain.Group, error) {
	return nil, errors.New("not implemented")
}

func (s *memStore) GroupByID(ctx context.Context, id domain.GroupID) (*domain.Group, error) {
	return &domain.Group{ID: id}, nil
}

func (s *memStore) GroupByAddress(ctx context.Context, address string) (*domain.Group, error) {
	return nil, core.ErrNotFound
}

func (s *memStore) JoinGroup(ctx context.Context, userID domain.UserID, groupID domain.GroupID, role domain.Role) error {
	return nil
}

func (s *memStore) IsMember(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members[groupID] {
		if m.User.ID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) MembersOf(ctx context.Context, groupID domain.GroupID) ([]*domain.GroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.GroupMember, len(s.members[groupID]))
	copy(out, s.members[groupID])
	return out, nil
}

func (s *memStore) GroupsOf(ctx context.Context, userID domain.UserID) ([]*domain.Group, error) {
	return nil, nil
}

// ---- core.MessageStore ----

func (s *memStore) CreateMessage(ctx context.Context, senderID domain.UserID, senderName string, groupID domain.GroupID, text string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateMessage {
		return nil, errors.New("persistence down")
	}
	s.nextMsg++
	m := &domain.Message{
		ID:         s.nextMsg,
		GroupID:    groupID,
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
		CreatedAt:  time.Now(),
	}
	s.messages[m.ID] = m
	return m, nil
}

func (s *memStore) MessageByID(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, core.ErrNotFound
}

func (s *memStore) UpdateText(ctx context.Context, id domain.MessageID, newText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Deleted {
		return core.ErrNotFound
	}
	m.Text = newText
	return nil
}

func (s *memStore) Tombstone(ctx context.Context, id domain.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return core.ErrNotFound
	}
	m.Deleted = true
	m.Text = ""
	return nil
}

func (s *memStore) ReadMessages(ctx context.Context, userID domain.UserID, groupID domain.GroupID) ([]*domain.Message, error) {
	return nil, nil
}

func (s *memStore) RecordChange(ctx context.Context, ch *domain.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch.ID = int64(len(s.changes) + 1)
	ch.CreatedAt = time.Now()
	s.changes = append(s.changes, ch)
	return nil
}

func (s *memStore) ChangesByGroup(ctx context.Context, groupID domain.GroupID) ([]*domain.Change, error) {
	return nil, nil
}

func (s *memStore) DeleteChangesByGroup(ctx context.Context, groupID domain.GroupID) error {
	return nil
}

// ---- core.BacklogStore ----

func (s *memStore) Enqueue(ctx context.Context, userID domain.UserID, messageID domain.MessageID, groupID domain.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if userID == s.failEnqueueFor {
		return errors.New("enqueue down")
	}
	set, ok := s.backlog[userID]
	if !ok {
		set = make(map[domain.MessageID]domain.GroupID)
		s.backlog[userID] = set
	}
	set[messageID] = groupID
	return nil
}

func (s *memStore) Dequeue(ctx context.Context, userID domain.UserID, messageID domain.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backlog[userID], messageID)
	return nil
}

func (s *memStore) BacklogFor(ctx context.Context, userID domain.UserID, groupID domain.GroupID) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []domain.MessageID
	for id, gid := range s.backlog[userID] {
		if gid != groupID {
			continue
		}
		if m, ok := s.messages[id]; !ok || m.Deleted {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*domain.Message, 0, len(ids))
	for _, id := range ids {
		cp := *s.messages[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) RemoveForMessage(ctx context.Context, messageID domain.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range s.backlog {
		delete(set, messageID)
	}
	return nil
}

func (s *memStore) FirstUnread(ctx context.Context, userID domain.UserID, groupID domain.GroupID) (domain.MessageID, bool, error) {
	return 0, false, nil
}

func (s *memStore) UnreadFor(ctx context.Context, userID domain.UserID) ([]domain.BacklogEntry, error) {
	return nil, nil
}

func (s *memStore) backlogIDs(userID domain.UserID) []domain.MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []domain.MessageID
	for id := range s.backlog[userID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// stubDrainConn records synchronous writes; it can be told to fail from
// a given write on.
type stubDrainConn struct {
	mu        sync.Mutex
	writes    []any
	failAfter int // fail the (failAfter+1)-th and later writes; -1 never
}

func newStubDrainConn() *stubDrainConn { return &stubDrainConn{failAfter: -1} }

func (c *stubDrainConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAfter >= 0 && len(c.writes) >= c.failAfter {
		return errors.New("socket gone")
	}
	c.writes = append(c.writes, v)
	return nil
}

func (c *stubDrainConn) Close() {}

func (c *stubDrainConn) payloads() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.writes))
	copy(out, c.writes)
	return out
}

// ErrStubBackpressure simulates a full push buffer.
var ErrStubBackpressure = errors.New("backpressure")

// stubPushConn records best-effort pushes.
type stubPushConn struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (c *stubPushConn) TrySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *stubPushConn) Close() {}

func (c *stubPushConn) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, string(f))
	}
	return out
}
