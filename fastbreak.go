// Package fastbreak provides the Go client for the FastBreak live event
// stream.
//
// A single persistent WebSocket multiplexes presence, annotations,
// reactions, and live game/score updates over one connection. The client
// owns the connection lifecycle: it reconnects automatically with capped
// exponential backoff, reapplies the active subscription filter after
// every reconnect, and answers server liveness probes, all without
// application involvement.
//
// Example:
//
//	client := fastbreak.New(fastbreak.WithBaseURL("https://api.fastbreak.live"))
//	defer client.Close()
//
//	off := client.On(fastbreak.EventScoreUpdate, func(data json.RawMessage) {
//		// ...
//	})
//	defer off()
//
//	client.Subscribe(map[string]string{"team": "LAL"})
//	client.Connect()
package fastbreak

import (
	"net/url"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// ============================================================================
// Defaults
// ============================================================================

const (
	DefaultBaseURL = "https://api.fastbreak.live"

	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 30 * time.Second
	defaultMaxAttempts = 10

	// capacityCooldown is the fixed delay before the single reconnect
	// attempt after the server sheds this connection. Deliberately long so
	// a fleet of clients does not turn load shedding into a retry storm.
	capacityCooldown = 60 * time.Second

	dialTimeout  = 15 * time.Second
	writeTimeout = 5 * time.Second
)

// ============================================================================
// Options
// ============================================================================

type Option func(*Client)

// WithBaseURL sets the API base URL the WebSocket endpoint is derived from.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithSessionStore sets where the anonymous session token is persisted.
// Defaults to an in-memory store.
func WithSessionStore(store SessionStore) Option {
	return func(c *Client) { c.store = store }
}

// WithDialer overrides the transport dialer. Tests use this to substitute
// a fake transport.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithBackoff sets the reconnection backoff base and cap.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		c.bo.Min = base
		c.bo.Max = max
	}
}

// WithMaxReconnectAttempts bounds automatic reconnection. Once exceeded,
// an explicit Connect call is required to resume.
func WithMaxReconnectAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// ============================================================================
// Construction
// ============================================================================

// New creates a client. The client holds no connection until Connect is
// called; it is intended to live for the whole application lifetime.
//
// If the session store cannot be read or written the client falls back to
// a fresh in-memory token, so construction never fails.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		store:   NewMemorySessionStore(),
		dialer:  wsDialer{},
		log:     zap.NewNop(),
		bo: &backoff.Backoff{
			Min:    defaultBaseDelay,
			Max:    defaultMaxDelay,
			Factor: 2,
			Jitter: false,
		},
		maxAttempts: defaultMaxAttempts,
		ops:         make(chan func(), 256),
		done:        make(chan struct{}),
		registry:    make(map[string]map[uintptr]Handler),
		afterFunc: func(d time.Duration, f func()) stopTimer {
			return time.AfterFunc(d, f)
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	token, err := loadOrCreateToken(c.store)
	if err != nil {
		c.log.Warn("session store unavailable, using ephemeral token", zap.Error(err))
		token = newSessionToken()
	}
	c.token = token
	c.state.Store(string(StateDisconnected))

	go c.run()
	return c
}

// wsURL derives the WebSocket endpoint from the base URL and appends the
// session token.
func (c *Client) wsURL() string {
	u := strings.Replace(c.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws?session_token=" + url.QueryEscape(c.token)
}
