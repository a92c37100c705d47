// Package queue implements the relay's offline message buffer: a thin,
// named wrapper over store.QueueStore giving the dispatcher an
// Enqueue/Flush vocabulary instead of raw Append/Acquire/Remove calls.
package queue

import (
	"context"

	"github.com/relaymesh/navajo/p2p/message"
	"github.com/relaymesh/navajo/store"
)

// OfflineQueue buffers ChatInfo messages addressed to a peer with no live
// connection, released on that peer's next Ping.
type OfflineQueue struct {
	store store.QueueStore
}

// New wraps a QueueStore as an OfflineQueue.
func New(s store.QueueStore) *OfflineQueue {
	return &OfflineQueue{store: s}
}

// Enqueue buffers msg for address, to be delivered on its next Flush.
func (q *OfflineQueue) Enqueue(ctx context.Context, address string, msg message.P2PMessage) error {
	return q.store.Append(ctx, address, msg)
}

// Flush returns every message buffered for address, oldest first, and
// clears the queue. Called once address registers a live connection via
// Ping. Returns (nil, nil) if nothing was buffered.
func (q *OfflineQueue) Flush(ctx context.Context, address string) ([]message.P2PMessage, error) {
	msgs, err := q.store.Acquire(ctx, address)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	if err := q.store.Remove(ctx, address); err != nil {
		return nil, err
	}
	return msgs, nil
}
