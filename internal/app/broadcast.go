package app

import (
	"context"

	"github.com/avdeev/Courier/internal/core"
	"github.com/avdeev/Courier/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Broadcaster is the change broadcast path: edit/delete notices go to
// group members that currently hold a live delivery connection, and to
// nobody else. There is no durable record for offline members; they
// resync through the change log over HTTP.
type Broadcaster struct {
	Groups   core.GroupStore
	Registry *Registry

	FanoutWorkers int
}

// BroadcastChange delivers the notice independently and concurrently to
// each live member. Per-member write failures are logged and dropped;
// the notice is best effort by design of the live channel.
func (b *Broadcaster) BroadcastChange(ctx context.Context, groupID domain.GroupID, typ domain.ChangeType, msgID domain.MessageID, newText string) {
	members, err := b.Groups.MembersOf(ctx, groupID)
	if err != nil {
		log.Error().Str("module", "app.broadcast").Int64("group", int64(groupID)).Err(err).Msg("member list unavailable")
		return
	}

	payload := core.ChangePayload{Type: typ, ID: msgID, NewText: newText}
	workers := b.FanoutWorkers
	if workers <= 0 {
		workers = defaultFanoutWorkers
	}

	var eg errgroup.Group
	eg.SetLimit(workers)
	for _, member := range members {
		uid := member.User.ID
		eg.Go(func() error {
			conn, ok := b.Registry.DeliveryConn(uid)
			if !ok {
				return nil
			}
			if err := conn.WriteJSON(payload); err != nil {
				log.Info().Str("module", "app.broadcast").Int64("user", int64(uid)).Err(err).Msg("change notice dropped")
			}
			return nil
		})
	}
	_ = eg.Wait()
}
