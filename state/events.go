package state

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/hashicorp/go-immutable-radix"
	"github.com/vx-labs/store-sync/mutation"
)

type Subscriber func(mutation.Mutation)

type CancelFunc func()

type subscription struct {
	handler   Subscriber
	cancelled int32
}

// EventBus delivers mutations to subscribers synchronously, in subscription
// order. Subscribers are keyed by a monotonic sequence so the radix tree walk
// preserves registration order.
type EventBus struct {
	state *iradix.Tree
	seq   uint64
}

func (e *EventBus) cas(old, new *iradix.Tree) bool {
	oldPtr := (*unsafe.Pointer)(unsafe.Pointer(&e.state))
	return atomic.CompareAndSwapPointer(oldPtr, unsafe.Pointer(old), unsafe.Pointer(new))
}

func (e *EventBus) tree() *iradix.Tree {
	return (*iradix.Tree)(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(&e.state))))
}

func (e *EventBus) Emit(ev mutation.Mutation) {
	e.tree().Root().Walk(func(k []byte, v interface{}) bool {
		sub := v.(*subscription)
		if atomic.LoadInt32(&sub.cancelled) == 0 {
			sub.handler(ev)
		}
		return false
	})
}

func (e *EventBus) Len() int {
	return e.tree().Len()
}

func (e *EventBus) Subscribe(handler Subscriber) CancelFunc {
	sub := &subscription{handler: handler}
	id := make([]byte, 8)
	binary.BigEndian.PutUint64(id, atomic.AddUint64(&e.seq, 1))
	cancel := func() {
		if !atomic.CompareAndSwapInt32(&sub.cancelled, 0, 1) {
			return
		}
		for {
			old := e.tree()
			new, _, _ := old.Delete(id)
			if e.cas(old, new) {
				return
			}
		}
	}
	for {
		old := e.tree()
		new, _, _ := old.Insert(id, sub)
		if e.cas(old, new) {
			return cancel
		}
	}
}

func NewEventBus() *EventBus {
	return &EventBus{
		state: iradix.New(),
	}
}
