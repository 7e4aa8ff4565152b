package core

// DeliveryConn is the exclusive backlog drain socket of one user.
// Writes are synchronous so the drain loop can delete a backlog entry
// only after the payload actually went out; the implementation must
// serialise concurrent writers (drain loop vs change broadcast) so
// single-socket ordering holds.
// Owned by the adapter; the adapter must Close() it.
type DeliveryConn interface {
	WriteJSON(v any) error
	Close()
}

// PushConn is a best-effort low-latency channel (the send socket).
// TrySend must never block; on backpressure it reports an error and the
// frame is dropped, the durable backlog remains the delivery guarantee.
type PushConn interface {
	TrySend(data []byte) error
	Close()
}
