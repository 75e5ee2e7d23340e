// Package broadcast fans ingested transmissions out to subscriber
// connections grouped by scope topics.
package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trunkwatch/trunkwatch/internal/access"
	"github.com/trunkwatch/trunkwatch/internal/observability"
	"github.com/trunkwatch/trunkwatch/internal/schema"
)

// Directory resolves the derived scopes a transmission belongs to.
// Implementations answer from an in-memory view; Publish calls them on the
// hot path and a miss simply means an empty result.
type Directory interface {
	// ScanlistsWith returns the slugs of scanlists containing the talkgroup.
	ScanlistsWith(talkgroupSlug string) []string
	// IncidentsWith returns the slugs of incidents the transmission is
	// tagged into.
	IncidentsWith(txID uuid.UUID) []string
}

// Broadcaster owns the topic registry and performs the fanout. Publish runs
// under the registry read lock, so subscription changes serialize against
// in-flight fanouts and a connection never receives a transmission for a
// scope it has already left.
type Broadcaster struct {
	mu     sync.RWMutex
	topics map[schema.ScopeKey]*topic

	policy    access.Policy
	directory Directory
	metrics   *engineMetrics

	queueCapacity int
	drainGrace    time.Duration
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithQueueCapacity sets the per-connection delivery queue bound.
func WithQueueCapacity(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.queueCapacity = n
		}
	}
}

// WithDrainGrace sets how long a closing connection may spend flushing its
// queue.
func WithDrainGrace(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.drainGrace = d
		}
	}
}

// New constructs a broadcaster with an empty topic registry.
func New(policy access.Policy, directory Directory, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		topics:        make(map[schema.ScopeKey]*topic),
		policy:        policy,
		directory:     directory,
		metrics:       newEngineMetrics(),
		queueCapacity: defaultQueueCapacity,
		drainGrace:    defaultDrainGrace,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Policy returns the access policy the broadcaster enforces.
func (b *Broadcaster) Policy() access.Policy { return b.policy }

// NewConnection creates a connection in the connecting state. Transmissions
// matching its scopes buffer in its queue from the moment it subscribes, so
// a backfill performed before Activate leaves no gap at the live seam.
func (b *Broadcaster) NewConnection(identity schema.Identity, sink Sink) *Connection {
	c := &Connection{
		id:         uuid.New(),
		identity:   identity,
		sink:       sink,
		queue:      newDeliveryQueue(b.queueCapacity),
		seen:       make(map[uuid.UUID]struct{}),
		scopes:     make(map[schema.ScopeKey]struct{}),
		drainGrace: b.drainGrace,
		done:       make(chan struct{}),
		loopExited: make(chan struct{}),
		b:          b,
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// Subscribe attaches the connection to the given scopes, creating topics on
// first use. Subscribing to a scope twice is a no-op.
func (b *Broadcaster) Subscribe(c *Connection, keys ...schema.ScopeKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if State(c.state.Load()) >= StateDraining {
		return
	}
	for _, key := range keys {
		b.subscribeLocked(c, key)
	}
}

// Unsubscribe detaches the connection from the given scopes. Topics with no
// remaining subscribers are deleted from the registry.
func (b *Broadcaster) Unsubscribe(c *Connection, keys ...schema.ScopeKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range keys {
		b.unsubscribeLocked(c, key)
	}
}

// SetScopes replaces the connection's scope set in one step. A concurrent
// Publish observes either the old set or the new one, never a mix.
func (b *Broadcaster) SetScopes(c *Connection, keys ...schema.ScopeKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if State(c.state.Load()) >= StateDraining {
		return
	}
	next := make(map[schema.ScopeKey]struct{}, len(keys))
	for _, key := range keys {
		next[key] = struct{}{}
	}
	for key := range c.scopes {
		if _, keep := next[key]; !keep {
			b.unsubscribeLocked(c, key)
		}
	}
	for key := range next {
		b.subscribeLocked(c, key)
	}
}

// Scopes returns a snapshot of the connection's current scope set.
func (b *Broadcaster) Scopes(c *Connection) []schema.ScopeKey {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]schema.ScopeKey, 0, len(c.scopes))
	for key := range c.scopes {
		out = append(out, key)
	}
	return out
}

// TopicCount reports the number of live topics.
func (b *Broadcaster) TopicCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

// Publish fans a transmission out to every connection subscribed to any
// scope it matches. A connection subscribed to several matching scopes is
// enqueued once. Publish never blocks on a slow subscriber.
func (b *Broadcaster) Publish(tx schema.Transmission) {
	keys := b.scopesFor(tx)

	b.mu.RLock()
	defer b.mu.RUnlock()

	var audience map[uuid.UUID]*Connection
	for _, key := range keys {
		t, ok := b.topics[key]
		if !ok {
			continue
		}
		for id, c := range t.conns {
			if audience == nil {
				audience = make(map[uuid.UUID]*Connection, len(t.conns))
			}
			audience[id] = c
		}
	}

	delivered := 0
	for _, c := range audience {
		if !b.policy.Permits(c.identity, tx) {
			b.metrics.denied(tx.System)
			continue
		}
		c.enqueue(tx)
		delivered++
	}
	b.metrics.published(tx.System, delivered)

	observability.Log().Debug("transmission published",
		observability.Field{Key: "id", Value: tx.ID.String()},
		observability.Field{Key: "talkgroup", Value: tx.TalkgroupSlug},
		observability.Field{Key: "fanout", Value: delivered})
}

// scopesFor lists every topic key the transmission matches: the firehose,
// its talkgroup, each involved unit, plus scanlists and incidents resolved
// through the directory.
func (b *Broadcaster) scopesFor(tx schema.Transmission) []schema.ScopeKey {
	keys := []schema.ScopeKey{schema.GlobalScope(), schema.TalkgroupScope(tx.TalkgroupSlug)}
	for _, slug := range tx.UnitSlugs {
		keys = append(keys, schema.UnitScope(slug))
	}
	if b.directory != nil {
		for _, slug := range b.directory.ScanlistsWith(tx.TalkgroupSlug) {
			keys = append(keys, schema.ScanlistScope(slug))
		}
		for _, slug := range b.directory.IncidentsWith(tx.ID) {
			keys = append(keys, schema.IncidentScope(slug))
		}
	}
	return keys
}

func (b *Broadcaster) subscribeLocked(c *Connection, key schema.ScopeKey) {
	if !key.Valid() {
		return
	}
	t, ok := b.topics[key]
	if !ok {
		t = newTopic(key)
		b.topics[key] = t
		b.metrics.topicOpened()
	}
	t.add(c)
	c.scopes[key] = struct{}{}
}

func (b *Broadcaster) unsubscribeLocked(c *Connection, key schema.ScopeKey) {
	t, ok := b.topics[key]
	if !ok {
		return
	}
	t.remove(c)
	delete(c.scopes, key)
	if t.empty() {
		delete(b.topics, key)
		b.metrics.topicClosed()
	}
}

// drop removes a closed connection from every topic it was subscribed to.
func (b *Broadcaster) drop(c *Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range c.scopes {
		b.unsubscribeLocked(c, key)
	}
}
