package broker

import (
	"context"

	"github.com/vx-labs/store-sync/kv/store"
	"github.com/vx-labs/store-sync/pool"
	"github.com/vx-labs/store-sync/registry"
	"github.com/vx-labs/store-sync/state"
	"github.com/vx-labs/store-sync/transport"
	"go.uber.org/zap"
)

// Container is the authoritative state container the broker synchronizes.
type Container interface {
	State() map[string]interface{}
	Subscribe(handler state.Subscriber) state.CancelFunc
	Commit(mutationType string, payload interface{}) error
}

// Broker keeps every attached connection in sync with a Container.
//
// Every access to the container and to the connection registry happens on a
// single-worker pool, so transport callbacks, restoration and local commits
// are processed one at a time.
type Broker struct {
	logger      *zap.Logger
	container   Container
	adapter     store.Adapter
	settings    settings
	registry    *registry.Registry
	loop        *pool.Pool
	metrics     *Metrics
	restored    chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe state.CancelFunc
}

// New starts synchronizing container. When settings name persistent states,
// adapter is read in the background and the saved values are merged into the
// container once available. adapter may be nil when nothing is persisted.
func New(logger *zap.Logger, container Container, adapter store.Adapter, config Settings) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		logger:    logger,
		container: container,
		adapter:   adapter,
		settings:  compile(config),
		registry:  registry.New(),
		loop:      pool.NewPool(1),
		metrics:   newMetrics(),
		restored:  make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	b.unsubscribe = container.Subscribe(b.onMutation)
	if b.settings.persistent() && adapter != nil {
		b.logger.Info("persistent states detected on config, reading from storage",
			zap.Strings("persistent_states", b.settings.persistentStates))
		go b.restore()
	} else {
		close(b.restored)
	}
	return b
}

// dispatch runs f on the broker loop.
func (b *Broker) dispatch(f func()) error {
	err := b.loop.Call(func() error {
		f()
		return nil
	})
	if err != nil {
		b.logger.Debug("event dropped", zap.Error(err))
	}
	return err
}

// Attach makes the broker accept the connections of t.
func (b *Broker) Attach(t transport.Transport) {
	t.HandleConnection(func(conn transport.Conn) {
		err := b.dispatch(func() {
			b.onConnection(conn)
		})
		if err != nil {
			conn.Close()
		}
	})
}

// Commit applies a mutation originating from the coordinator itself.
func (b *Broker) Commit(mutationType string, payload interface{}) error {
	return b.loop.Call(func() error {
		return b.container.Commit(mutationType, payload)
	})
}

// State returns a copy of the container state.
func (b *Broker) State() map[string]interface{} {
	var out map[string]interface{}
	b.dispatch(func() {
		out = state.Clone(b.container.State())
	})
	return out
}

// Connections returns the names of the attached connections, in attachment
// order.
func (b *Broker) Connections() []string {
	var out []string
	b.dispatch(func() {
		out = b.registry.Names()
	})
	return out
}

// Restored is closed once persistent states were read and merged, or
// immediately when nothing is persisted.
func (b *Broker) Restored() <-chan struct{} {
	return b.restored
}

// Health reports "warning" until persistent states are restored.
func (b *Broker) Health() string {
	select {
	case <-b.restored:
		return "ok"
	default:
		return "warning"
	}
}

// Metrics returns the broker collectors, to be registered by the caller.
func (b *Broker) Metrics() *Metrics {
	return b.metrics
}

// Close stops the broker. Connections are left to their transports.
func (b *Broker) Close() error {
	b.dispatch(func() {
		b.unsubscribe()
	})
	b.cancel()
	b.loop.Cancel()
	return nil
}
