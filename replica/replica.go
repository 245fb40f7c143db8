package replica

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/vx-labs/store-sync/mutation"
	"github.com/vx-labs/store-sync/pool"
	"github.com/vx-labs/store-sync/state"
	"github.com/vx-labs/store-sync/transport"
	"go.uber.org/zap"
)

// Container is the local state container a replica keeps in sync.
type Container interface {
	State() map[string]interface{}
	Subscribe(handler state.Subscriber) state.CancelFunc
	Commit(mutationType string, payload interface{}) error
}

// ChangeFunc observes every change applied to the replica state.
type ChangeFunc func(mutationType string, state map[string]interface{})

type startable interface {
	Start()
}

// Replica mirrors the state of a broker over a single connection. Remote
// snapshots and mutations are applied locally without being sent back, local
// commits are applied then forwarded.
type Replica struct {
	logger      *zap.Logger
	conn        transport.Conn
	container   Container
	ignored     map[string]struct{}
	loop        *pool.Pool
	applying    bool
	sendErr     error
	observers   []ChangeFunc
	synced      chan struct{}
	syncedOnce  sync.Once
	done        chan struct{}
	doneOnce    sync.Once
	unsubscribe state.CancelFunc
}

// New wires conn to container and starts reading from conn when it needs
// to be started.
func New(logger *zap.Logger, conn transport.Conn, container Container, ignoredMutations []string) *Replica {
	r := &Replica{
		logger:    logger.With(zap.String("connection_name", conn.Name())),
		conn:      conn,
		container: container,
		ignored:   make(map[string]struct{}, len(ignoredMutations)),
		loop:      pool.NewPool(1),
		synced:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, t := range ignoredMutations {
		r.ignored[t] = struct{}{}
	}
	r.unsubscribe = container.Subscribe(r.onMutation)
	conn.OnMessage(func(payload []byte) {
		r.loop.Call(func() error {
			r.handle(payload)
			return nil
		})
	})
	conn.OnDisconnect(func() {
		r.logger.Debug("replica disconnected")
		r.doneOnce.Do(func() { close(r.done) })
	})
	if s, ok := conn.(startable); ok {
		s.Start()
	}
	return r
}

func (r *Replica) handle(payload []byte) {
	switch mutation.MessageType(payload) {
	case mutation.StateMessage:
		snapshot, err := mutation.DecodeState(payload)
		if err != nil {
			r.logger.Warn("invalid state received", zap.Error(err))
			return
		}
		r.apply(state.ReplaceState, snapshot)
		r.syncedOnce.Do(func() { close(r.synced) })
	case mutation.MutationMessage:
		m, err := mutation.DecodeMutation(payload)
		if err != nil {
			r.logger.Warn("invalid mutation received", zap.Error(err))
			return
		}
		r.apply(m.Type, m.Payload)
	}
}

func (r *Replica) apply(mutationType string, payload interface{}) {
	r.applying = true
	defer func() { r.applying = false }()
	err := r.container.Commit(mutationType, payload)
	if err != nil {
		r.logger.Error("failed to apply remote mutation, local state may be stale",
			zap.String("mutation_type", mutationType), zap.Error(err))
	}
}

func (r *Replica) onMutation(m mutation.Mutation) {
	if !r.applying {
		if _, ok := r.ignored[m.Type]; !ok {
			r.forward(m)
		}
	}
	if len(r.observers) > 0 {
		current := r.container.State()
		for _, observer := range r.observers {
			observer(m.Type, current)
		}
	}
}

func (r *Replica) forward(m mutation.Mutation) {
	payload, err := mutation.EncodeMutation(m)
	if err == nil {
		err = r.conn.Send(payload)
	}
	if err != nil {
		r.sendErr = errors.Wrap(err, "failed to forward mutation")
		r.logger.Error("mutation not sent", zap.String("mutation_type", m.Type), zap.Error(err))
	}
}

// Commit applies a local mutation and forwards it to the broker.
func (r *Replica) Commit(mutationType string, payload interface{}) error {
	return r.loop.Call(func() error {
		r.sendErr = nil
		err := r.container.Commit(mutationType, payload)
		if err != nil {
			return err
		}
		return r.sendErr
	})
}

// State returns a copy of the local state.
func (r *Replica) State() map[string]interface{} {
	var out map[string]interface{}
	r.loop.Call(func() error {
		out = r.container.State()
		return nil
	})
	return out
}

// OnChange registers f to be called after every applied change.
func (r *Replica) OnChange(f ChangeFunc) {
	r.loop.Call(func() error {
		r.observers = append(r.observers, f)
		return nil
	})
}

// Synced is closed once the first snapshot was applied.
func (r *Replica) Synced() <-chan struct{} {
	return r.synced
}

// Done is closed when the connection is lost.
func (r *Replica) Done() <-chan struct{} {
	return r.done
}

func (r *Replica) Close() error {
	r.loop.Call(func() error {
		r.unsubscribe()
		return nil
	})
	err := r.conn.Close()
	r.loop.Cancel()
	return err
}
