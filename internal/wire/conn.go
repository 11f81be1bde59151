package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Conn wraps a gorilla/websocket connection with the kind-tagged framing
// this protocol uses. Every frame is a binary websocket message whose
// first byte is the Kind and whose remaining bytes are the JSON-encoded
// payload — gorilla/websocket's own frame length prefix is what makes this
// "length-delimited" without this package managing byte counts itself.
type Conn struct {
	ws *websocket.Conn
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send writes one typed message frame.
func (c *Conn) Send(kind Kind, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wire: marshal %s: %w", kind, err)
	}
	frame := make([]byte, 1+len(body))
	frame[0] = byte(kind)
	copy(frame[1:], body)
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

// Receive reads the next frame and unmarshals its payload into out, which
// must be a pointer to the struct matching the returned Kind.
func (c *Conn) Receive(out any) (Kind, error) {
	msgType, data, err := c.ws.ReadMessage()
	if err != nil {
		return 0, err
	}
	if msgType != websocket.BinaryMessage || len(data) < 1 {
		return 0, fmt.Errorf("wire: malformed frame (type=%d len=%d)", msgType, len(data))
	}
	kind := Kind(data[0])
	if out != nil {
		if err := json.Unmarshal(data[1:], out); err != nil {
			return kind, fmt.Errorf("wire: unmarshal %s: %w", kind, err)
		}
	}
	return kind, nil
}

// SetDeadline applies a read/write deadline pair, used for connect
// timeouts and IS_ALIVE liveness checks.
func (c *Conn) SetDeadline(d time.Duration) error {
	deadline := time.Now().Add(d)
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(deadline)
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

// Dial opens a new connection to a peer's wire-protocol endpoint at url
// (ws:// or wss://), for use as a downstream.Dialer or wherever a fresh
// outbound connection is needed.
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: dial %q: %w", url, err)
	}
	return NewConn(ws), nil
}
