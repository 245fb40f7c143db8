package transport

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrNoHandler = errors.New("no connection handler registered")
)

// inbox is a FIFO a sender never waits on. A zero limit means unbounded.
type inbox struct {
	mutex  sync.Mutex
	cond   *sync.Cond
	items  [][]byte
	limit  int
	closed bool
}

func newInbox() *inbox {
	return newBoundedInbox(0)
}

func newBoundedInbox(limit int) *inbox {
	i := &inbox{limit: limit}
	i.cond = sync.NewCond(&i.mutex)
	return i
}

func (i *inbox) push(payload []byte) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	if i.closed {
		return ErrConnectionClosed
	}
	if i.limit > 0 && len(i.items) >= i.limit {
		return ErrSlowConsumer
	}
	i.items = append(i.items, payload)
	i.cond.Signal()
	return nil
}

// pop blocks until an item is available. It returns false once the inbox is
// closed and drained.
func (i *inbox) pop() ([]byte, bool) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	for len(i.items) == 0 && !i.closed {
		i.cond.Wait()
	}
	if len(i.items) == 0 {
		return nil, false
	}
	item := i.items[0]
	i.items[0] = nil
	i.items = i.items[1:]
	return item, true
}

func (i *inbox) close() {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.closed = true
	i.cond.Broadcast()
}

// PipeConn is one end of an in-process connection.
type PipeConn struct {
	name           string
	inbox          *inbox
	peer           *PipeConn
	mutex          sync.Mutex
	onMessage      func([]byte)
	onDisconnect   func()
	started        int32
	closeOnce      sync.Once
	disconnectOnce sync.Once
}

// Pipe returns both ends of an in-process connection named name.
func Pipe(name string) (*PipeConn, *PipeConn) {
	a := &PipeConn{name: name, inbox: newInbox()}
	b := &PipeConn{name: name, inbox: newInbox()}
	a.peer = b
	b.peer = a
	return a, b
}

func (c *PipeConn) Name() string {
	return c.name
}

func (c *PipeConn) OnMessage(f func([]byte)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onMessage = f
}
func (c *PipeConn) OnDisconnect(f func()) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onDisconnect = f
}

func (c *PipeConn) Send(payload []byte) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return c.peer.inbox.push(buf)
}

// Start begins delivering inbound messages.
func (c *PipeConn) Start() {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return
	}
	go func() {
		for {
			payload, ok := c.inbox.pop()
			if !ok {
				c.disconnected()
				return
			}
			c.mutex.Lock()
			handler := c.onMessage
			c.mutex.Unlock()
			if handler != nil {
				handler(payload)
			}
		}
	}()
}

func (c *PipeConn) disconnected() {
	c.disconnectOnce.Do(func() {
		c.mutex.Lock()
		handler := c.onDisconnect
		c.mutex.Unlock()
		if handler != nil {
			handler()
		}
	})
}

// Close shuts both directions down. Messages already queued are still
// delivered before the disconnect callbacks fire.
func (c *PipeConn) Close() error {
	c.closeOnce.Do(func() {
		c.inbox.close()
		c.peer.inbox.close()
	})
	return nil
}

// PipeTransport hands out in-process connections.
type PipeTransport struct {
	mutex   sync.Mutex
	handler Handler
	conns   []*PipeConn
	closed  bool
}

func NewPipeTransport() *PipeTransport {
	return &PipeTransport{}
}

func (t *PipeTransport) HandleConnection(handler Handler) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.handler = handler
}

// Connect attaches a new connection and returns the client end, not started.
func (t *PipeTransport) Connect(name string) (*PipeConn, error) {
	t.mutex.Lock()
	handler := t.handler
	closed := t.closed
	t.mutex.Unlock()
	if closed {
		return nil, ErrConnectionClosed
	}
	if handler == nil {
		return nil, ErrNoHandler
	}
	server, client := Pipe(name)
	t.mutex.Lock()
	t.conns = append(t.conns, server)
	t.mutex.Unlock()
	handler(server)
	server.Start()
	return client, nil
}

func (t *PipeTransport) Close() error {
	t.mutex.Lock()
	conns := t.conns
	t.conns = nil
	t.closed = true
	t.mutex.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
	return nil
}
