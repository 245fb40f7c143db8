package broker

import (
	"github.com/vx-labs/store-sync/mutation"
	"github.com/vx-labs/store-sync/registry"
	"github.com/vx-labs/store-sync/transport"
	"go.uber.org/zap"
)

func (b *Broker) onConnection(conn transport.Conn) {
	c := registry.NewConnection(conn)
	logger := b.logger.With(zap.String("connection_name", c.Name))
	conn.OnDisconnect(func() {
		b.dispatch(func() {
			b.onDisconnect(c)
		})
	})
	conn.OnMessage(func(payload []byte) {
		b.dispatch(func() {
			b.onMessage(c, payload)
		})
	})
	evicted, err := b.registry.Add(c)
	if err != nil {
		logger.Error("failed to register connection", zap.Error(err))
		go conn.Close()
		return
	}
	for _, old := range evicted {
		logger.Warn("connection replaced by a newer one with the same name")
		// closing may wait for queued frames to be flushed
		go old.Close()
	}
	b.metrics.connections.Set(float64(b.registry.Len()))
	logger.Debug("connection attached")
	b.syncCurrentState(c)
}

func (b *Broker) onDisconnect(c *registry.Connection) {
	current, err := b.registry.Get(c.Name)
	if err != nil {
		return
	}
	if current != c {
		b.logger.Debug("ignoring disconnect of a replaced connection", zap.String("connection_name", c.Name))
		return
	}
	_, err = b.registry.Remove(c.Name)
	if err != nil {
		b.logger.Error("failed to remove connection", zap.String("connection_name", c.Name), zap.Error(err))
		return
	}
	b.metrics.connections.Set(float64(b.registry.Len()))
	b.logger.Debug("connection detached", zap.String("connection_name", c.Name))
}

// onMessage handles a message received from c. Anything other than a
// well-formed mutation message is dropped.
func (b *Broker) onMessage(c *registry.Connection, payload []byte) {
	if mutation.MessageType(payload) != mutation.MutationMessage {
		b.metrics.dropped.Inc()
		return
	}
	m, err := mutation.DecodeMutation(payload)
	if err != nil {
		b.metrics.dropped.Inc()
		return
	}
	if b.settings.ignored(m.Type) {
		// ignored mutations are never routed, so they would stay pending forever
		err = b.container.Commit(m.Type, m.Payload)
		if err != nil {
			b.logger.Error("failed to apply mutation from connection",
				zap.String("connection_name", c.Name), zap.String("mutation_type", m.Type), zap.Error(err))
		}
		return
	}
	c.AppendPending(m)
	err = b.container.Commit(m.Type, m.Payload)
	if err != nil {
		// a failed commit emits nothing, so the entry is still last
		c.DropPending(c.Pending() - 1)
		b.logger.Error("failed to apply mutation from connection",
			zap.String("connection_name", c.Name), zap.String("mutation_type", m.Type), zap.Error(err))
	}
}
