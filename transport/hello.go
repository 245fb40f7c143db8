package transport

import (
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/tidwall/gjson"
)

// HelloMessage is the first frame a stream client sends, naming its connection.
const HelloMessage = "@@STORE_SYNC_HELLO"

var (
	ErrHandshakeFailed = errors.New("expected a hello frame")
)

var HandshakeDeadline = 15 * time.Second

type hello struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

func writeHello(f framer, name string) error {
	payload, err := json.Marshal(hello{Type: HelloMessage, Name: name})
	if err != nil {
		return err
	}
	return f.WriteFrame(payload)
}

func readHello(c net.Conn, f framer) (string, error) {
	c.SetReadDeadline(time.Now().Add(HandshakeDeadline))
	defer c.SetReadDeadline(time.Time{})
	frame, err := f.ReadFrame()
	if err != nil {
		return "", err
	}
	if gjson.GetBytes(frame, "type").String() != HelloMessage {
		return "", ErrHandshakeFailed
	}
	return gjson.GetBytes(frame, "name").String(), nil
}
