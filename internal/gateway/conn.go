package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/previewd/previewd/internal/protocol"
)

// wsConn wraps a gorilla WebSocket connection behind protocol.Sender.
// gorilla permits one concurrent writer, so writes are serialized here;
// broadcasts and execute sends may race otherwise.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) SendEnvelope(env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *wsConn) CloseNormal() error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
