package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrOutboundDropped = errors.New("session: outbound queue full, response dropped")
	ErrOutboundClosed  = errors.New("session: outbound queue closed")
)

// OutboundQueue is the bounded hand-off between the inbound reader and the
// stream writer. Push and Close belong to the single producer.
type OutboundQueue struct {
	ch      chan ProverMessage
	policy  OverflowPolicy
	dropped atomic.Uint64

	closeOnce sync.Once
	closed    atomic.Bool
}

func NewOutboundQueue(size int, policy OverflowPolicy) *OutboundQueue {
	if size <= 0 {
		size = DefaultConfig().OutboundQueueSize
	}
	if policy == "" {
		policy = OverflowBlock
	}
	return &OutboundQueue{
		ch:     make(chan ProverMessage, size),
		policy: policy,
	}
}

// Push enqueues msg. Under OverflowBlock it waits for room or ctx; under
// OverflowDrop a full queue returns ErrOutboundDropped immediately.
func (q *OutboundQueue) Push(ctx context.Context, msg ProverMessage) error {
	if q.closed.Load() {
		return ErrOutboundClosed
	}
	if q.policy == OverflowDrop {
		select {
		case q.ch <- msg:
			return nil
		default:
			q.dropped.Add(1)
			return ErrOutboundDropped
		}
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Chan is drained by the writer until it is closed.
func (q *OutboundQueue) Chan() <-chan ProverMessage {
	return q.ch
}

// Close marks the end of output. Messages already queued stay readable.
func (q *OutboundQueue) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.ch)
	})
}

func (q *OutboundQueue) Len() int {
	return len(q.ch)
}

func (q *OutboundQueue) Cap() int {
	return cap(q.ch)
}

func (q *OutboundQueue) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *OutboundQueue) Policy() OverflowPolicy {
	return q.policy
}
