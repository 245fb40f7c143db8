package broker

import (
	"github.com/vx-labs/store-sync/mutation"
	"github.com/vx-labs/store-sync/registry"
	"go.uber.org/zap"
)

// onMutation is subscribed to the container and runs after every successful
// commit.
func (b *Broker) onMutation(m mutation.Mutation) {
	b.logger.Debug("hooked mutation", zap.String("mutation_type", m.Type))
	if b.settings.ignored(m.Type) {
		b.logger.Info("mutation is on ignored mutations list, skipping", zap.String("mutation_type", m.Type))
		b.metrics.mutations.WithLabelValues("ignored").Inc()
		return
	}
	b.metrics.mutations.WithLabelValues("synced").Inc()
	payload, err := mutation.EncodeMutation(m)
	if err != nil {
		b.logger.Error("failed to encode mutation", zap.String("mutation_type", m.Type), zap.Error(err))
	} else {
		b.route(m, payload)
	}
	b.persist()
}

// route sends m to every connection that did not emit it, newest connection
// first. A connection with pending mutations only gets m sent when it sits at
// the head of the registry, once per pending mutation that differs from m.
func (b *Broker) route(m mutation.Mutation, payload []byte) {
	conns := b.registry.All()
	for idx := len(conns) - 1; idx >= 0; idx-- {
		conn := conns[idx]
		if conn.Pending() == 0 {
			b.send(conn, mutation.MutationMessage, payload)
		}
		for pendingIdx := conn.Pending() - 1; pendingIdx >= 0; pendingIdx-- {
			if conn.PendingAt(pendingIdx).Equal(m) {
				conn.DropPending(pendingIdx)
			} else if idx == 0 {
				b.send(conn, mutation.MutationMessage, payload)
			}
		}
	}
}

func (b *Broker) send(conn *registry.Connection, kind string, payload []byte) {
	b.logger.Debug("sending message to connection",
		zap.String("connection_name", conn.Name), zap.String("message_type", kind))
	err := conn.Send(payload)
	if err != nil {
		b.metrics.sendFailures.WithLabelValues(kind).Inc()
		if kind == mutation.StateMessage {
			b.logger.Error("initial state not sent", zap.String("connection_name", conn.Name), zap.Error(err))
		} else {
			b.logger.Error("mutation not sent", zap.String("connection_name", conn.Name), zap.Error(err))
		}
		return
	}
	b.metrics.messages.WithLabelValues(kind).Inc()
}
