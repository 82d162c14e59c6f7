package handshake

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/MarcoPoloResearchLab/apsa/backend/internal/wsframe"
)

// ClientConn is the client side of an upgraded connection. Receive must not be
// called from more than one goroutine; SendText may run alongside it.
type ClientConn struct {
	conn   net.Conn
	reader *bufio.Reader
	broken error
}

// NewClientKey returns a random base64 nonce suitable for Sec-WebSocket-Key.
func NewClientKey() (string, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(nonce[:]), nil
}

// Dial connects to a ws:// or http:// URL and performs the client half of the handshake.
func Dial(ctx context.Context, rawURL string) (*ClientConn, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("handshake: parse url: %w", err)
	}
	switch target.Scheme {
	case "ws", "http":
	default:
		return nil, fmt.Errorf("handshake: unsupported scheme %q", target.Scheme)
	}
	address := target.Host
	if target.Port() == "" {
		address = net.JoinHostPort(target.Hostname(), "80")
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := upgrade(conn, target)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return client, nil
}

func upgrade(conn net.Conn, target *url.URL) (*ClientConn, error) {
	key, err := NewClientKey()
	if err != nil {
		return nil, err
	}
	request := fmt.Sprintf("GET %s HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Key: %s\r\n"+
		"Sec-WebSocket-Version: 13\r\n"+
		"\r\n", target.RequestURI(), target.Host, key)
	if _, err := conn.Write([]byte(request)); err != nil {
		return nil, err
	}

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, &http.Request{Method: http.MethodGet})
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return nil, fmt.Errorf("%w: status %d", ErrNotSwitching, resp.StatusCode)
	}
	if resp.Header.Get("Sec-WebSocket-Accept") != AcceptKey(key) {
		return nil, ErrBadAccept
	}
	return &ClientConn{conn: conn, reader: reader}, nil
}

// SendText sends a masked text frame.
func (c *ClientConn) SendText(text string) error {
	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return err
	}
	frame, err := wsframe.EncodeMasked(wsframe.OpText, []byte(text), key)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(frame)
	return err
}

// Receive blocks until the next frame arrives or the deadline passes. A zero
// deadline waits forever. Any read error other than a recoverable frame error is
// terminal, a deadline included: the stream may have stopped mid-frame, so every
// later call returns ErrStreamBroken.
func (c *ClientConn) Receive(deadline time.Time) (wsframe.Frame, error) {
	if c.broken != nil {
		return wsframe.Frame{}, c.broken
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return wsframe.Frame{}, err
	}
	frame, err := wsframe.ReadServerFrame(c.reader)
	if err != nil && !wsframe.IsRecoverable(err) {
		c.broken = fmt.Errorf("%w: %w", ErrStreamBroken, err)
		return frame, c.broken
	}
	return frame, err
}

// Close sends a close frame and closes the socket.
func (c *ClientConn) Close() error {
	var key [4]byte
	frame, err := wsframe.EncodeMasked(wsframe.OpClose, nil, key)
	if err == nil {
		_, _ = c.conn.Write(frame)
	}
	return c.conn.Close()
}
