package transport

import (
	"errors"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
)

// Conn is a peer context attached through a transport.
type Conn interface {
	Name() string
	// Send delivers one encoded message to the peer.
	Send(payload []byte) error
	// OnMessage registers the inbound message callback.
	OnMessage(func(payload []byte))
	// OnDisconnect registers the callback fired once when the peer goes away.
	OnDisconnect(func())
	Close() error
}

// Handler is invoked for every new peer connection. Inbound messages are only
// delivered once it returned.
type Handler func(Conn)

type Transport interface {
	HandleConnection(Handler)
	Close() error
}

// Metadata describes where a connection comes from.
type Metadata struct {
	Name          string
	Transport     string
	Encrypted     bool
	RemoteAddress string
}
