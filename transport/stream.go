package transport

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrSlowConsumer = errors.New("outbound queue is full")
)

var (
	// WriteDeadline bounds every frame write. A peer that does not read for
	// that long is disconnected.
	WriteDeadline = 5 * time.Second
	// MaxPendingFrames is the outbound backlog a connection may accumulate
	// before it is disconnected.
	MaxPendingFrames = 1024
)

type framer interface {
	ReadFrame() ([]byte, error)
	WriteFrame([]byte) error
	SetWriteDeadline(time.Time) error
	Close() error
}

// lineFramer exchanges newline-delimited JSON documents.
type lineFramer struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newLineFramer(conn net.Conn) *lineFramer {
	return &lineFramer{conn: conn, reader: bufio.NewReader(conn)}
}

func (f *lineFramer) ReadFrame() ([]byte, error) {
	for {
		line, err := f.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			// a last frame without trailing newline is still delivered
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
func (f *lineFramer) WriteFrame(payload []byte) error {
	buf := make([]byte, len(payload)+1)
	copy(buf, payload)
	buf[len(payload)] = '\n'
	_, err := f.conn.Write(buf)
	return err
}
func (f *lineFramer) SetWriteDeadline(t time.Time) error {
	return f.conn.SetWriteDeadline(t)
}
func (f *lineFramer) Close() error {
	return f.conn.Close()
}

// StreamConn is a Conn over a byte stream (TCP, TLS or WebSocket).
//
// Outbound frames are queued and written by a dedicated goroutine, so Send
// never waits on the peer.
type StreamConn struct {
	metadata       Metadata
	framer         framer
	logger         *zap.Logger
	outbox         *inbox
	writeTimeout   time.Duration
	drained        chan struct{}
	mutex          sync.Mutex
	onMessage      func([]byte)
	onDisconnect   func()
	release        func()
	started        int32
	closed         chan struct{}
	closeOnce      sync.Once
	disconnectOnce sync.Once
}

func newStreamConn(metadata Metadata, f framer, logger *zap.Logger) *StreamConn {
	c := &StreamConn{
		metadata:     metadata,
		framer:       f,
		outbox:       newBoundedInbox(MaxPendingFrames),
		writeTimeout: WriteDeadline,
		drained:      make(chan struct{}),
		closed:       make(chan struct{}),
		logger: logger.WithOptions(zap.Fields(
			zap.String("connection_name", metadata.Name),
			zap.String("transport", metadata.Transport),
			zap.String("remote_address", metadata.RemoteAddress),
		)),
	}
	go c.writeLoop()
	return c
}

func (c *StreamConn) Name() string {
	return c.metadata.Name
}
func (c *StreamConn) Metadata() Metadata {
	return c.metadata
}

func (c *StreamConn) OnMessage(f func([]byte)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onMessage = f
}
func (c *StreamConn) OnDisconnect(f func()) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onDisconnect = f
}

// Send queues payload for the peer. The connection is closed when its backlog
// exceeds MaxPendingFrames.
func (c *StreamConn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	err := c.outbox.push(buf)
	if err == ErrSlowConsumer {
		c.logger.Warn("peer is not reading, closing connection", zap.Int("pending_frames", MaxPendingFrames))
		c.shutdown()
	}
	return err
}

func (c *StreamConn) writeLoop() {
	defer close(c.drained)
	for {
		frame, ok := c.outbox.pop()
		if !ok {
			return
		}
		c.framer.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		err := c.framer.WriteFrame(frame)
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Warn("failed to write to connection, closing it", zap.Error(err))
			}
			c.shutdown()
			return
		}
	}
}

// Start begins delivering inbound messages. It is a no-op when called more
// than once.
func (c *StreamConn) Start() {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return
	}
	go c.readLoop()
}

func (c *StreamConn) readLoop() {
	defer c.disconnected()
	for {
		frame, err := c.framer.ReadFrame()
		if err != nil {
			select {
			case <-c.closed:
				c.logger.Debug("connection closed")
			default:
				c.logger.Debug("connection lost", zap.Error(err))
			}
			c.shutdown()
			return
		}
		c.mutex.Lock()
		handler := c.onMessage
		c.mutex.Unlock()
		if handler != nil {
			handler(frame)
		}
	}
}

func (c *StreamConn) disconnected() {
	c.disconnectOnce.Do(func() {
		if c.release != nil {
			c.release()
		}
		c.mutex.Lock()
		handler := c.onDisconnect
		c.mutex.Unlock()
		if handler != nil {
			handler()
		}
	})
}

// Close stops accepting frames, waits at most WriteDeadline for the queued
// ones to be written, then closes the underlying stream.
func (c *StreamConn) Close() error {
	c.outbox.close()
	select {
	case <-c.drained:
	case <-time.After(c.writeTimeout):
	}
	return c.shutdown()
}

// shutdown closes the stream immediately, dropping queued frames.
func (c *StreamConn) shutdown() error {
	c.outbox.close()
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.framer.Close()
	})
	return err
}

// connSet tracks the live connections of a listener so they can be closed
// with it.
type connSet struct {
	mutex sync.Mutex
	conns map[*StreamConn]struct{}
}

func newConnSet() *connSet {
	return &connSet{conns: map[*StreamConn]struct{}{}}
}

func (s *connSet) track(c *StreamConn) {
	s.mutex.Lock()
	s.conns[c] = struct{}{}
	s.mutex.Unlock()
	c.release = func() {
		s.mutex.Lock()
		delete(s.conns, c)
		s.mutex.Unlock()
	}
}

func (s *connSet) closeAll() {
	s.mutex.Lock()
	conns := make([]*StreamConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mutex.Unlock()
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *StreamConn) {
			defer wg.Done()
			c.Close()
		}(c)
	}
	wg.Wait()
}
