package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

type wsServerFramer struct {
	conn net.Conn
}

func (f *wsServerFramer) ReadFrame() ([]byte, error) {
	buf, _, err := wsutil.ReadClientData(f.conn)
	return buf, err
}
func (f *wsServerFramer) WriteFrame(payload []byte) error {
	return wsutil.WriteServerMessage(f.conn, ws.OpText, payload)
}
func (f *wsServerFramer) SetWriteDeadline(t time.Time) error {
	return f.conn.SetWriteDeadline(t)
}
func (f *wsServerFramer) Close() error {
	return f.conn.Close()
}

type wsClientFramer struct {
	conn net.Conn
	rw   io.ReadWriter
}

func (f *wsClientFramer) ReadFrame() ([]byte, error) {
	buf, _, err := wsutil.ReadServerData(f.rw)
	return buf, err
}
func (f *wsClientFramer) WriteFrame(payload []byte) error {
	return wsutil.WriteClientMessage(f.conn, ws.OpText, payload)
}
func (f *wsClientFramer) SetWriteDeadline(t time.Time) error {
	return f.conn.SetWriteDeadline(t)
}
func (f *wsClientFramer) Close() error {
	return f.conn.Close()
}

// WSTransport accepts WebSocket connections. Peers name their connection with
// the "name" query parameter.
type WSTransport struct {
	listener  net.Listener
	server    *http.Server
	logger    *zap.Logger
	handler   Handler
	conns     *connSet
	once      sync.Once
	closeOnce sync.Once
}

func NewWSTransport(address, path string, logger *zap.Logger) (*WSTransport, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	listener := &WSTransport{
		listener: ln,
		logger:   logger.WithOptions(zap.Fields(zap.String("transport", "ws"))),
		conns:    newConnSet(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, listener.upgrade)
	listener.server = &http.Server{Handler: mux}
	return listener, nil
}

func (t *WSTransport) Addr() net.Addr {
	return t.listener.Addr()
}

func (t *WSTransport) HandleConnection(handler Handler) {
	t.once.Do(func() {
		t.handler = handler
		go func() {
			err := t.server.Serve(t.listener)
			if err != nil && err != http.ErrServerClosed {
				t.logger.Error("websocket listener failed", zap.Error(err))
			}
		}()
	})
}

func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.server.Close()
		t.conns.closeAll()
	})
	return err
}

func (t *WSTransport) upgrade(w http.ResponseWriter, r *http.Request) {
	t.logger.Debug("starting websocket negotiation", zap.String("remote_address", r.RemoteAddr))
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		t.logger.Warn("websocket negotiation failed", zap.String("remote_address", r.RemoteAddr), zap.Error(err))
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "ws://" + r.RemoteAddr
	}
	c := newStreamConn(Metadata{
		Name:          name,
		Transport:     "ws",
		RemoteAddress: r.RemoteAddr,
	}, &wsServerFramer{conn: conn}, t.logger)
	t.conns.track(c)
	c.logger.Debug("accepted new connection")
	t.handler(c)
	c.Start()
}

// DialWS connects to a WSTransport. The connection name is taken from the
// "name" query parameter of endpoint. Call Start once callbacks are registered.
func DialWS(ctx context.Context, endpoint string, logger *zap.Logger) (*StreamConn, error) {
	conn, br, _, err := ws.Dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}
	name := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Query().Get("name") != "" {
		name = u.Query().Get("name")
	}
	return newStreamConn(Metadata{
		Name:          name,
		Transport:     "ws",
		RemoteAddress: conn.RemoteAddr().String(),
	}, &wsClientFramer{conn: conn, rw: rw}, logger), nil
}
