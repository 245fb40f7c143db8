package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	proxyproto "github.com/armon/go-proxyproto"
	"go.uber.org/zap"
)

// TCPTransport accepts newline-delimited JSON connections over TCP or TLS.
type TCPTransport struct {
	listener  net.Listener
	name      string
	encrypted bool
	logger    *zap.Logger
	handler   Handler
	conns     *connSet
	once      sync.Once
	quit      chan struct{}
	closeOnce sync.Once
}

func newTCPTransport(name string, listener net.Listener, encrypted bool, logger *zap.Logger) *TCPTransport {
	return &TCPTransport{
		listener:  listener,
		name:      name,
		encrypted: encrypted,
		logger:    logger.WithOptions(zap.Fields(zap.String("transport", name))),
		conns:     newConnSet(),
		quit:      make(chan struct{}),
	}
}

func NewTCPTransport(address string, logger *zap.Logger) (*TCPTransport, error) {
	tcp, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	proxyListener := &proxyproto.Listener{Listener: tcp}
	return newTCPTransport("tcp", proxyListener, false, logger), nil
}

func NewTLSTransport(address string, certFile, keyFile string, logger *zap.Logger) (*TCPTransport, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return NewTLSTransportWithConfig(address, &tls.Config{
		Certificates: []tls.Certificate{cert},
	}, logger)
}

func NewTLSTransportWithConfig(address string, config *tls.Config, logger *zap.Logger) (*TCPTransport, error) {
	tcp, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	proxyList := &proxyproto.Listener{Listener: tcp}
	l := tls.NewListener(proxyList, config)
	return newTCPTransport("tls", l, true, logger), nil
}

func (t *TCPTransport) Addr() net.Addr {
	return t.listener.Addr()
}

// HandleConnection starts accepting connections. Only the first handler is used.
func (t *TCPTransport) HandleConnection(handler Handler) {
	t.once.Do(func() {
		t.handler = handler
		go t.acceptLoop()
	})
}

func (t *TCPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.quit)
		err = t.listener.Close()
		t.conns.closeAll()
	})
	return err
}

func (t *TCPTransport) acceptLoop() {
	var tempDelay time.Duration
	for {
		c, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.quit:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				t.logger.Warn("accept error", zap.Error(err), zap.Duration("retry_in", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			t.logger.Error("connection handling failed", zap.Error(err))
			t.listener.Close()
			return
		}
		tempDelay = 0
		go t.queueSession(c)
	}
}

func (t *TCPTransport) queueSession(c net.Conn) {
	if tlsConn, ok := c.(*tls.Conn); ok {
		c.SetDeadline(time.Now().Add(HandshakeDeadline))
		err := tlsConn.Handshake()
		c.SetDeadline(time.Time{})
		if err != nil {
			t.logger.Warn("tls handshake failed", zap.Error(err))
			c.Close()
			return
		}
	}
	framer := newLineFramer(c)
	name, err := readHello(c, framer)
	if err != nil {
		t.logger.Warn("handshake failed", zap.Error(err))
		c.Close()
		return
	}
	remoteAddress := c.RemoteAddr().String()
	if name == "" {
		name = fmt.Sprintf("%s://%s", t.name, remoteAddress)
	}
	conn := newStreamConn(Metadata{
		Name:          name,
		Transport:     t.name,
		Encrypted:     t.encrypted,
		RemoteAddress: remoteAddress,
	}, framer, t.logger)
	t.conns.track(conn)
	conn.logger.Debug("accepted new connection")
	t.handler(conn)
	conn.Start()
}

func dialer(ctx context.Context) *net.Dialer {
	d := &net.Dialer{}
	if deadline, ok := ctx.Deadline(); ok {
		d.Deadline = deadline
	}
	return d
}

func dialStream(c net.Conn, transportName, name string, encrypted bool, logger *zap.Logger) (*StreamConn, error) {
	framer := newLineFramer(c)
	err := writeHello(framer, name)
	if err != nil {
		c.Close()
		return nil, err
	}
	return newStreamConn(Metadata{
		Name:          name,
		Transport:     transportName,
		Encrypted:     encrypted,
		RemoteAddress: c.RemoteAddr().String(),
	}, framer, logger), nil
}

// DialTCP connects to a TCPTransport under the given connection name. Call
// Start once callbacks are registered.
func DialTCP(ctx context.Context, address, name string, logger *zap.Logger) (*StreamConn, error) {
	c, err := dialer(ctx).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return dialStream(c, "tcp", name, false, logger)
}

// DialTLS connects to a TLS TCPTransport under the given connection name. Call
// Start once callbacks are registered.
func DialTLS(ctx context.Context, address, name string, config *tls.Config, logger *zap.Logger) (*StreamConn, error) {
	c, err := tls.DialWithDialer(dialer(ctx), "tcp", address, config)
	if err != nil {
		return nil, err
	}
	return dialStream(c, "tls", name, true, logger)
}
