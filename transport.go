package fastbreak

import (
	"context"
	"errors"
	"fmt"

	"nhooyr.io/websocket"
)

// ============================================================================
// Transport Abstraction
// ============================================================================

// Transport is a single full-duplex connection to the server. Exactly one
// transport is current at a time; a superseded transport may still deliver
// stale callbacks, which the client discards.
type Transport interface {
	// Read blocks until the next frame arrives. When the peer closes the
	// connection it returns a CloseError carrying the close code.
	Read(ctx context.Context) ([]byte, error)
	// Send writes one text frame.
	Send(ctx context.Context, data []byte) error
	// Close closes the connection with the given status.
	Close(code CloseCode, reason string) error
}

// Dialer establishes transports. The default dialer speaks WebSocket;
// tests substitute their own.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// ============================================================================
// WebSocket Transport
// ============================================================================

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		if code := websocket.CloseStatus(err); code != -1 {
			var ce websocket.CloseError
			reason := ""
			if errors.As(err, &ce) {
				reason = ce.Reason
			}
			return nil, CloseError{Code: CloseCode(code), Reason: reason}
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(code CloseCode, reason string) error {
	return t.conn.Close(websocket.StatusCode(code), reason)
}
