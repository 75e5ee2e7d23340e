package broadcast

import (
	"github.com/google/uuid"

	"github.com/trunkwatch/trunkwatch/internal/schema"
)

// topic is one broadcast scope and its current subscriber set. Membership is
// guarded by the broadcaster registry lock; topics carry no locking of their
// own.
type topic struct {
	key   schema.ScopeKey
	conns map[uuid.UUID]*Connection
}

func newTopic(key schema.ScopeKey) *topic {
	return &topic{key: key, conns: make(map[uuid.UUID]*Connection)}
}

func (t *topic) add(c *Connection)    { t.conns[c.id] = c }
func (t *topic) remove(c *Connection) { delete(t.conns, c.id) }
func (t *topic) empty() bool          { return len(t.conns) == 0 }
