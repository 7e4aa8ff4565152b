package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/avdeev/Courier/internal/core"
	"github.com/avdeev/Courier/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrNotAMember rejects a send (or a connection) from a user outside the group.
var ErrNotAMember = errors.New("not a member of the group")

const defaultFanoutWorkers = 8

// Sender is the send path: persist once, then fan the delivery
// obligation out to every group member.
type Sender struct {
	Users    core.UserStore
	Groups   core.GroupStore
	Messages core.MessageStore
	Backlog  core.BacklogStore
	Registry *Registry

	// FanoutWorkers bounds the per-send fan-out so one unreachable
	// member cannot starve the rest. Zero means the default.
	FanoutWorkers int
}

// Send persists the message and creates a backlog entry for every
// member, including the sender. Members with live send sockets also get
// an immediate raw-text push; that push is an extra, non-durable channel
// on top of the backlog entry, so live clients can see the same message
// twice unless they deduplicate by id.
//
// A persistence failure aborts the whole send. Per-member fan-out
// failures are logged and skipped; the message stays persisted and the
// surviving members keep their entries.
func (s *Sender) Send(ctx context.Context, senderID domain.UserID, groupID domain.GroupID, text string) (*domain.Message, error) {
	if len(text) > domain.MaxTextLen {
		return nil, domain.ErrTextTooLong
	}
	ok, err := s.Groups.IsMember(ctx, senderID, groupID)
	if err != nil {
		return nil, fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return nil, ErrNotAMember
	}

	sender, err := s.Users.UserByID(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("sender lookup: %w", err)
	}
	msg, err := s.Messages.CreateMessage(ctx, senderID, sender.Username, groupID, text)
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	members, err := s.Groups.MembersOf(ctx, groupID)
	if err != nil {
		// The message is durable already; a later reconciliation pass
		// owns repairing the missing backlog entries.
		log.Error().Str("module", "app.send").Int64("message", int64(msg.ID)).Err(err).Msg("member list unavailable, fan-out skipped")
		return msg, nil
	}

	workers := s.FanoutWorkers
	if workers <= 0 {
		workers = defaultFanoutWorkers
	}
	raw := []byte(text)

	var eg errgroup.Group
	eg.SetLimit(workers)
	for _, member := range members {
		uid := member.User.ID
		eg.Go(func() error {
			if err := s.Backlog.Enqueue(ctx, uid, msg.ID, groupID); err != nil {
				return fmt.Errorf("enqueue user %d message %d: %w", uid, msg.ID, err)
			}
			s.Registry.PushText(uid, raw)
			s.Registry.Wake(uid)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		log.Error().Str("module", "app.send").Int64("message", int64(msg.ID)).Err(err).Msg("partial fan-out")
	}
	return msg, nil
}
