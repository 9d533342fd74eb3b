package feed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
)

// Conn is a single established feed session.
type Conn interface {
	// ReadMessage blocks until a message arrives or the deadline passes.
	ReadMessage(deadline time.Time) ([]byte, error)
	WriteMessage(payload []byte) error
	Close() error
}

// Dialer establishes feed sessions. The connector owns reconnect policy;
// a Dialer only knows how to produce one connection.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

const defaultHandshakeTimeout = 10 * time.Second

// WSDialer dials a websocket feed endpoint.
type WSDialer struct {
	URL              string
	HandshakeTimeout time.Duration
	Header           http.Header
}

// NewWSDialer creates a websocket dialer for the given endpoint URL.
func NewWSDialer(url string) *WSDialer {
	return &WSDialer{URL: url, HandshakeTimeout: defaultHandshakeTimeout}
}

// Dial establishes a websocket connection.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, errors.Wrap(err, "dial feed websocket")
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage(deadline time.Time) ([]byte, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	_, payload, err := c.conn.ReadMessage()
	return payload, err
}

func (c *wsConn) WriteMessage(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
