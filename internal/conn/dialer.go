package conn

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the subset of a websocket connection the manager drives.
// gorilla's *websocket.Conn satisfies it; tests substitute fakes.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Socket, error)
}

type wsDialer struct {
	dialer *websocket.Dialer
}

func NewWebsocketDialer(handshakeTimeout time.Duration) Dialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &wsDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func (d *wsDialer) Dial(ctx context.Context, endpoint string) (Socket, error) {
	ws, _, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return ws, nil
}

// DeriveEndpoint turns the application's own base address into the socket
// endpoint: the scheme is upgraded to its duplex equivalent (https becomes
// wss) and the path defaults to /ws. There is no separate discovery step.
func DeriveEndpoint(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base address: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return "", fmt.Errorf("base address %q has no host", base)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	} else {
		u.Path = strings.TrimRight(u.Path, "/")
	}

	return u.String(), nil
}
