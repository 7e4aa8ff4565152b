package app

import (
	"errors"
	"sync"

	"github.com/avdeev/Courier/internal/core"
	"github.com/avdeev/Courier/internal/domain"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyConnected means the user already holds a delivery connection.
// The existing connection is preserved; the new one must be closed.
var ErrAlreadyConnected = errors.New("delivery connection already registered")

type deliveryEntry struct {
	Conn core.DeliveryConn
	Wake chan struct{}
}

// Registry tracks which users are currently reachable: at most one
// delivery (backlog drain) connection per user, any number of send
// connections. It is the only shared mutable structure in the process.
type Registry struct {
	mu       sync.RWMutex
	delivery map[domain.UserID]*deliveryEntry
	sends    map[domain.UserID]map[core.PushConn]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		delivery: make(map[domain.UserID]*deliveryEntry),
		sends:    make(map[domain.UserID]map[core.PushConn]struct{}),
	}
}

// RegisterDelivery installs the user's exclusive drain connection with
// check-and-set semantics: under concurrent attempts exactly one wins,
// the rest get ErrAlreadyConnected. The returned channel is signalled
// whenever new backlog work may exist for the user.
func (r *Registry) RegisterDelivery(uid domain.UserID, conn core.DeliveryConn) (<-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.delivery[uid]; ok {
		return nil, ErrAlreadyConnected
	}
	e := &deliveryEntry{Conn: conn, Wake: make(chan struct{}, 1)}
	r.delivery[uid] = e
	log.Info().Str("module", "app.registry").Int64("user", int64(uid)).Msg("delivery connection registered")
	return e.Wake, nil
}

// UnregisterDelivery removes the user's drain connection. Idempotent;
// a stale call from an already-replaced connection is a no-op.
func (r *Registry) UnregisterDelivery(uid domain.UserID, conn core.DeliveryConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.delivery[uid]
	if !ok || e.Conn != conn {
		return
	}
	delete(r.delivery, uid)
	log.Info().Str("module", "app.registry").Int64("user", int64(uid)).Msg("delivery connection unregistered")
}

func (r *Registry) IsLive(uid domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.delivery[uid]
	return ok
}

// DeliveryConn returns the live drain connection, if any. Used by the
// change broadcast path only.
func (r *Registry) DeliveryConn(uid domain.UserID) (core.DeliveryConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.delivery[uid]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Wake nudges the user's drain loop out of its idle wait. Non-blocking;
// a pending signal is enough, the loop re-reads the whole backlog.
func (r *Registry) Wake(uid domain.UserID) {
	r.mu.RLock()
	e, ok := r.delivery[uid]
	r.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case e.Wake <- struct{}{}:
	default:
	}
}

func (r *Registry) AddSend(uid domain.UserID, conn core.PushConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sends[uid]
	if !ok {
		set = make(map[core.PushConn]struct{})
		r.sends[uid] = set
	}
	set[conn] = struct{}{}
	log.Info().Str("module", "app.registry").Int64("user", int64(uid)).Msg("send connection added")
}

func (r *Registry) RemoveSend(uid domain.UserID, conn core.PushConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sends[uid]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(r.sends, uid)
	}
}

// PushText forwards raw text to the user's send sockets, best effort.
// No-op when the user has none; backpressure drops are logged and
// swallowed since the backlog is the durable path.
func (r *Registry) PushText(uid domain.UserID, data []byte) {
	r.mu.RLock()
	conns := make([]core.PushConn, 0, len(r.sends[uid]))
	for c := range r.sends[uid] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		if err := c.TrySend(data); err != nil {
			log.Debug().Str("module", "app.registry").Int64("user", int64(uid)).Err(err).Msg("push dropped")
		}
	}
}
