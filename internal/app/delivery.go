package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avdeev/Courier/internal/core"
	"github.com/avdeev/Courier/internal/domain"
	"github.com/rs/zerolog/log"
)

// ErrForbidden means the credential is valid but the holder is not a
// member of the requested group.
var ErrForbidden = errors.New("not allowed")

const defaultPollInterval = 700 * time.Millisecond

// Delivery runs the per-connection backlog drain loop. One instance is
// shared by all connections; per-connection state lives on the stack of
// Run.
type Delivery struct {
	Groups   core.GroupStore
	Backlog  core.BacklogStore
	Registry *Registry

	// PollInterval bounds the idle wait. The wake channel is the fast
	// path; the timeout is only a liveness net so the loop observes
	// external closure promptly. Zero means the default.
	PollInterval time.Duration
}

// Authorize checks group membership for a drain connection.
func (d *Delivery) Authorize(ctx context.Context, uid domain.UserID, groupID domain.GroupID) error {
	ok, err := d.Groups.IsMember(ctx, uid, groupID)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// Run drains the user's backlog for one group into conn until ctx is
// cancelled. The caller must have registered conn in the Registry; Run
// unregisters it on exit (the Closed state), so exit is idempotent from
// the transport's point of view.
//
// Each round re-reads the backlog, so entries always carry the current
// message text, not a snapshot from enqueue time. An entry is deleted
// only after its payload was written; a failed write ends the batch and
// the remaining entries stay pending for the next connection.
func (d *Delivery) Run(ctx context.Context, uid domain.UserID, groupID domain.GroupID, conn core.DeliveryConn, wake <-chan struct{}) {
	defer d.Registry.UnregisterDelivery(uid, conn)

	poll := d.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := d.Backlog.BacklogFor(ctx, uid, groupID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Str("module", "app.delivery").Int64("user", int64(uid)).Err(err).Msg("backlog read failed")
			msgs = nil
		}

		if len(msgs) > 0 {
			for _, m := range msgs {
				if err := conn.WriteJSON(core.NewTextPayload(m)); err != nil {
					log.Info().Str("module", "app.delivery").Int64("user", int64(uid)).Err(err).Msg("write failed, closing drain")
					return
				}
				if err := d.Backlog.Dequeue(ctx, uid, m.ID); err != nil {
					// Stop rather than risk re-delivering the whole batch.
					log.Error().Str("module", "app.delivery").Int64("user", int64(uid)).Int64("message", int64(m.ID)).Err(err).Msg("dequeue failed")
					return
				}
			}
			// More may have arrived while writing; re-read immediately.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-time.After(poll):
		}
	}
}
