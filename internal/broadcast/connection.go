package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/trunkwatch/trunkwatch/errs"
	"github.com/trunkwatch/trunkwatch/internal/history"
	"github.com/trunkwatch/trunkwatch/internal/observability"
	"github.com/trunkwatch/trunkwatch/internal/schema"
)

const (
	defaultQueueCapacity = 64
	defaultDrainGrace    = 2 * time.Second
)

// State tracks a connection through its lifecycle. Transitions only move
// forward: connecting, active, draining, closed.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink is the transport write side of a connection. Send is called from a
// single goroutine at a time; implementations apply their own write deadline.
type Sink interface {
	Send(ctx context.Context, tx schema.Transmission) error
}

// Connection binds one subscriber session to its identity, its bounded
// delivery queue, and the scopes it listens on. All publishes it matches are
// enqueued; a dedicated delivery loop writes them to the sink in order.
type Connection struct {
	id       uuid.UUID
	identity schema.Identity
	sink     Sink
	queue    *deliveryQueue
	state    atomic.Int32

	// seen holds transmission IDs already written during backfill. Populated
	// before Activate and read only by the delivery loop afterwards, so it
	// needs no lock.
	seen map[uuid.UUID]struct{}

	// scopes is the connection's current topic membership, guarded by the
	// broadcaster registry lock.
	scopes map[schema.ScopeKey]struct{}

	drainGrace time.Duration

	closeOnce   sync.Once
	done        chan struct{}
	loopStarted atomic.Bool
	loopExited  chan struct{}

	b *Broadcaster
}

// ID returns the session identifier used for cross-topic deduplication.
func (c *Connection) ID() uuid.UUID { return c.id }

// Identity returns the subscriber identity the connection was opened with.
func (c *Connection) Identity() schema.Identity { return c.identity }

// State reports the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Done is closed once the connection reaches the closed state.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Dropped reports how many transmissions queue overflow has evicted.
func (c *Connection) Dropped() uint64 { return c.queue.droppedCount() }

// enqueue buffers a transmission for delivery. Called by the broadcaster
// during fanout; never blocks. Enqueues after close are silent no-ops.
func (c *Connection) enqueue(tx schema.Transmission) {
	if State(c.state.Load()) >= StateDraining {
		return
	}
	if c.queue.push(tx) {
		c.b.metrics.queueEvicted(tx.System)
	}
}

// Backfill fetches recent history for scope, filters it through the access
// policy, and writes it to the sink oldest first. The connection must still
// be in the connecting state. Delivered IDs are recorded so the live stream
// does not repeat them.
func (c *Connection) Backfill(ctx context.Context, store history.Store, scope schema.ScopeKey, limit int) error {
	if State(c.state.Load()) != StateConnecting {
		return errs.New("stream", errs.CodeConflict,
			errs.WithMessage("backfill only permitted while connecting"))
	}
	cutoff := c.b.policy.HistoryCutoff(c.identity, time.Now())
	items, err := store.FetchRecent(ctx, scope, cutoff, limit)
	if err != nil {
		return errs.New("stream", errs.CodeUnavailable,
			errs.WithMessage("history backfill failed"), errs.WithCause(err))
	}
	for _, tx := range items {
		if !c.b.policy.Permits(c.identity, tx) {
			continue
		}
		if err := c.sink.Send(ctx, tx); err != nil {
			return err
		}
		c.seen[tx.ID] = struct{}{}
		c.b.metrics.backfilled(tx.System)
	}
	return nil
}

// Activate moves the connection from connecting to active. Transmissions
// enqueued while connecting are delivered once Run starts.
func (c *Connection) Activate() {
	c.state.CompareAndSwap(int32(StateConnecting), int32(StateActive))
}

// Run drives the delivery loop until the context is cancelled, the sink
// fails, or Close is called. It always leaves the connection closed and
// removed from every topic. Run is the sole sink writer while it is active;
// Close waits for it to exit before draining.
func (c *Connection) Run(ctx context.Context) {
	c.loopStarted.Store(true)
	defer c.Close()
	defer close(c.loopExited)
	for {
		tx, ok := c.queue.pop()
		if !ok {
			if c.queue.isClosed() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-c.queue.notify:
				continue
			}
		}
		if _, dup := c.seen[tx.ID]; dup {
			// Already sent by backfill; the live seam overlaps at most once
			// per ID.
			delete(c.seen, tx.ID)
			continue
		}
		if err := c.sink.Send(ctx, tx); err != nil {
			observability.Log().Debug("stream send failed",
				observability.Field{Key: "session", Value: c.id.String()},
				observability.Field{Key: "error", Value: err.Error()})
			return
		}
		c.b.metrics.delivered(tx.System)
	}
}

// Close transitions the connection to draining, flushes whatever is still
// queued within the drain grace period, then marks it closed and detaches it
// from all topics. Safe to call from any goroutine, any number of times.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateDraining))
		c.queue.close()
		if c.loopStarted.Load() {
			// The delivery loop owns the sink; wait for it to observe the
			// closed queue before draining.
			select {
			case <-c.loopExited:
			case <-time.After(c.drainGrace):
			}
		}
		c.drain()
		c.state.Store(int32(StateClosed))
		c.b.drop(c)
		close(c.done)
	})
}

// drain writes remaining queued transmissions until the grace period expires
// or the sink errors. Best effort; a dead transport just fails fast.
func (c *Connection) drain() {
	grace := c.drainGrace
	if grace <= 0 {
		grace = defaultDrainGrace
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	for {
		tx, ok := c.queue.pop()
		if !ok {
			return
		}
		if _, dup := c.seen[tx.ID]; dup {
			delete(c.seen, tx.ID)
			continue
		}
		if err := c.sink.Send(ctx, tx); err != nil {
			return
		}
		c.b.metrics.delivered(tx.System)
	}
}
