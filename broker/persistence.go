package broker

import (
	"github.com/vx-labs/store-sync/kv/store"
	"github.com/vx-labs/store-sync/mutation"
	"github.com/vx-labs/store-sync/registry"
	"github.com/vx-labs/store-sync/state"
	"go.uber.org/zap"
)

func (b *Broker) restore() {
	defer close(b.restored)
	saved, ok, err := b.adapter.Load(b.ctx)
	b.dispatch(func() {
		b.applyRestored(saved, ok, err)
	})
}

func (b *Broker) applyRestored(saved map[string]interface{}, ok bool, err error) {
	if err != nil {
		b.metrics.persistence.WithLabelValues("load", "failure").Inc()
		b.logger.Error("failed to read persistent states from storage", zap.Error(err))
		return
	}
	b.metrics.persistence.WithLabelValues("load", "success").Inc()
	if !ok {
		b.logger.Debug("no data found on storage for persistent states")
		return
	}
	restored := store.Filter(saved, b.settings.persistentStates)
	b.logger.Debug("saved persistent states found", zap.Int("restored_key_count", len(restored)))
	merged := state.Clone(b.container.State())
	for key, value := range restored {
		merged[key] = value
	}
	err = b.container.Commit(state.ReplaceState, merged)
	if err != nil {
		b.logger.Error("failed to replace state with persistent states", zap.Error(err))
		return
	}
	conns := b.registry.All()
	if len(conns) == 0 {
		return
	}
	b.logger.Info("sending restored state to attached connections", zap.Int("connection_count", len(conns)))
	for idx := len(conns) - 1; idx >= 0; idx-- {
		b.syncCurrentState(conns[idx])
	}
}

// persist saves the persistent subset of the state. It is a no-op when no
// persistent state is configured.
func (b *Broker) persist() {
	if !b.settings.persistent() || b.adapter == nil {
		return
	}
	err := b.adapter.Save(b.ctx, store.Filter(b.container.State(), b.settings.persistentStates))
	if err != nil {
		b.metrics.persistence.WithLabelValues("save", "failure").Inc()
		b.logger.Error("failed to save persistent states", zap.Error(err))
		return
	}
	b.metrics.persistence.WithLabelValues("save", "success").Inc()
}

func (b *Broker) syncCurrentState(conn *registry.Connection) {
	payload, err := mutation.EncodeState(b.container.State())
	if err != nil {
		b.logger.Error("failed to encode state", zap.Error(err))
		return
	}
	b.send(conn, mutation.StateMessage, payload)
}
