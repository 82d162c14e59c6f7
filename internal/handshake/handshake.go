// Package handshake performs the connection upgrade that turns an HTTP request into
// a framed connection.
package handshake

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
)

const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var (
	// ErrMissingKey indicates the upgrade request carried no Sec-WebSocket-Key header.
	ErrMissingKey = errors.New("handshake: missing Sec-WebSocket-Key header")
	// ErrNotSwitching indicates the server answered without switching protocols.
	ErrNotSwitching = errors.New("handshake: server did not switch protocols")
	// ErrBadAccept indicates the server returned an accept value that does not match the key.
	ErrBadAccept = errors.New("handshake: unexpected Sec-WebSocket-Accept value")
	// ErrStreamBroken indicates an earlier read left the client stream mid-frame.
	ErrStreamBroken = errors.New("handshake: frame stream broken")
)

// Response carries the values written back to complete the upgrade.
type Response struct {
	Accept string
}

// AcceptKey derives the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	digest := sha1.Sum([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(digest[:])
}

// Negotiate validates an upgrade request and computes the response. Only the key
// header is required.
func Negotiate(req *http.Request) (Response, error) {
	key := strings.TrimSpace(req.Header.Get("Sec-WebSocket-Key"))
	if key == "" {
		return Response{}, ErrMissingKey
	}
	return Response{Accept: AcceptKey(key)}, nil
}

// WriteResponse writes the 101 response that completes the upgrade.
func WriteResponse(w io.Writer, resp Response) error {
	_, err := io.WriteString(w, "HTTP/1.1 101 Switching Protocols\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Accept: "+resp.Accept+"\r\n"+
		"\r\n")
	return err
}
