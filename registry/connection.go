package registry

import (
	"github.com/vx-labs/store-sync/mutation"
	"github.com/vx-labs/store-sync/transport"
)

// Connection is an attached peer context. Its pending list holds the
// mutations the peer injected that have not yet been routed back.
type Connection struct {
	ID      string
	Name    string
	conn    transport.Conn
	pending []mutation.Mutation
}

func NewConnection(conn transport.Conn) *Connection {
	return &Connection{
		Name: conn.Name(),
		conn: conn,
	}
}

func (c *Connection) Send(payload []byte) error {
	return c.conn.Send(payload)
}

func (c *Connection) Close() error {
	return c.conn.Close()
}

func (c *Connection) Pending() int {
	return len(c.pending)
}

func (c *Connection) PendingAt(idx int) mutation.Mutation {
	return c.pending[idx]
}

func (c *Connection) AppendPending(m mutation.Mutation) {
	c.pending = append(c.pending, m)
}

func (c *Connection) DropPending(idx int) {
	c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
}
