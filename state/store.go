package state

import (
	"errors"

	"github.com/vx-labs/store-sync/mutation"
)

// ReplaceState is the built-in mutation replacing the whole state with its
// payload. It is used to apply snapshots and restored persistent data.
const ReplaceState = "storeSyncReplaceState"

var (
	ErrUnknownMutation    = errors.New("unknown mutation type")
	ErrInvalidReplacement = errors.New("replacement state must be an object")
)

// Handler applies a mutation payload to the state, in place.
type Handler func(state map[string]interface{}, payload interface{}) error

// Store is the state container: it owns the state, applies committed
// mutations through registered handlers and notifies subscribers.
//
// Store is not safe for concurrent use. Subscribers may read the state and
// commit from inside their callback.
type Store struct {
	state    map[string]interface{}
	handlers map[string]Handler
	bus      *EventBus
}

func NewStore(initial map[string]interface{}) *Store {
	s := &Store{
		state:    Clone(initial),
		handlers: map[string]Handler{},
		bus:      NewEventBus(),
	}
	s.handlers[ReplaceState] = replaceState
	return s
}

func replaceState(state map[string]interface{}, payload interface{}) error {
	replacement, ok := payload.(map[string]interface{})
	if !ok {
		return ErrInvalidReplacement
	}
	for key := range state {
		delete(state, key)
	}
	for key, value := range replacement {
		state[key] = value
	}
	return nil
}

// Register binds a handler to a mutation type, replacing any previous one.
func (s *Store) Register(mutationType string, handler Handler) {
	s.handlers[mutationType] = handler
}

// State returns a shallow copy of the current state.
func (s *Store) State() map[string]interface{} {
	return Clone(s.state)
}

func (s *Store) Subscribe(handler Subscriber) CancelFunc {
	return s.bus.Subscribe(handler)
}

// Commit applies a mutation and, once it succeeded, emits it to every subscriber.
func (s *Store) Commit(mutationType string, payload interface{}) error {
	handler, ok := s.handlers[mutationType]
	if !ok {
		return ErrUnknownMutation
	}
	err := handler(s.state, payload)
	if err != nil {
		return err
	}
	s.bus.Emit(mutation.Mutation{Type: mutationType, Payload: payload})
	return nil
}

// Clone returns a shallow copy of a state mapping.
func Clone(state map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(state))
	for key, value := range state {
		out[key] = value
	}
	return out
}
