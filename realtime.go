package fastbreak

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// ============================================================================
// Connection State
// ============================================================================

// ConnState is the lifecycle state of the logical connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
	StateClosing      ConnState = "closing"
)

// Handler is a callback for a subscribed event type. It receives the
// envelope's data payload, or the whole envelope when no payload is
// present.
type Handler func(data json.RawMessage)

// stopTimer is the cancellable handle of a scheduled reconnect.
type stopTimer interface {
	Stop() bool
}

// ============================================================================
// Client
// ============================================================================

// Client is the event transport client. It owns exactly one logical
// connection at a time and multiplexes all subscriptions and application
// events over it.
//
// All state transitions run on a single internal loop goroutine; public
// methods post work onto that loop and never block on the network, so no
// two transitions ever run concurrently. Methods are safe to call from
// any goroutine, including from inside event handlers.
type Client struct {
	baseURL string
	token   string
	store   SessionStore
	dialer  Dialer
	log     *zap.Logger

	ops       chan func()
	done      chan struct{}
	closeOnce sync.Once

	state atomic.Value // string(ConnState)

	// Everything below is owned by the run loop.
	gen        int
	tr         Transport
	cancelDial context.CancelFunc
	filters    map[string]string
	registry   map[string]map[uintptr]Handler

	onPresence     []func(PresencePayload)
	onNote         []func(NotePayload)
	onReaction     []func(ReactionPayload)
	onGameUpdate   []func(GameUpdatePayload)
	onScoreUpdate  []func(ScoreUpdatePayload)
	onConnect      []func()
	onDisconnect   []func(CloseCode, string)
	onReconnecting []func(attempt int, delay time.Duration)

	bo             *backoff.Backoff
	maxAttempts    int
	autoReconnect  bool
	reconnectTimer stopTimer
	afterFunc      func(time.Duration, func()) stopTimer
}

// run executes posted operations one at a time until Close.
func (c *Client) run() {
	for {
		select {
		case <-c.done:
			return
		case op := <-c.ops:
			op()
		}
	}
}

// do posts an operation onto the run loop. After Close the operation is
// dropped.
func (c *Client) do(op func()) {
	select {
	case c.ops <- op:
	case <-c.done:
	}
}

func (c *Client) setState(s ConnState) {
	c.state.Store(string(s))
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load().(string))
}

// IsConnected reports whether the connection is currently open.
func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

// Token returns the anonymous session token. It is stable for the client
// lifetime and never rotated.
func (c *Client) Token() string {
	return c.token
}

// ============================================================================
// Connection Lifecycle
// ============================================================================

// Connect establishes the connection. A no-op while already connecting or
// open. Re-enables automatic reconnection after a prior Disconnect or
// after the reconnect ceiling was exhausted.
func (c *Client) Connect() {
	c.do(func() {
		if s := c.State(); s == StateConnecting || s == StateOpen {
			return
		}
		c.autoReconnect = true
		c.bo.Reset()
		c.stopReconnectTimer()
		c.startDial()
	})
}

// Disconnect closes the connection cleanly and disables automatic
// reconnection until the next Connect. It also cancels any pending
// reconnect timer and any in-flight dial.
func (c *Client) Disconnect() {
	c.do(func() {
		c.autoReconnect = false
		c.stopReconnectTimer()
		if c.cancelDial != nil {
			c.cancelDial()
			c.cancelDial = nil
		}
		c.gen++ // discard callbacks from the superseded transport
		if c.tr != nil {
			c.setState(StateClosing)
			if err := c.tr.Close(CloseNormal, "client disconnect"); err != nil {
				c.log.Debug("close failed", zap.Error(err))
			}
			c.tr = nil
			c.emitDisconnected(CloseNormal, "client disconnect")
		}
		c.setState(StateDisconnected)
	})
}

// Close disconnects and stops the client's internal loop. The client must
// not be used afterwards.
func (c *Client) Close() {
	c.Disconnect()
	c.do(func() {
		c.closeOnce.Do(func() { close(c.done) })
	})
}

// startDial kicks off an asynchronous connection attempt. Loop-owned.
func (c *Client) startDial() {
	c.setState(StateConnecting)
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	c.cancelDial = cancel
	endpoint := c.wsURL()
	go func() {
		tr, err := c.dialer.Dial(ctx, endpoint)
		c.do(func() { c.dialDone(gen, tr, err) })
	}()
}

// dialDone finishes a connection attempt. Loop-owned.
func (c *Client) dialDone(gen int, tr Transport, err error) {
	if gen != c.gen {
		// A Disconnect or newer attempt superseded this dial.
		if tr != nil {
			_ = tr.Close(CloseNormal, "superseded")
		}
		return
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if err != nil {
		c.log.Debug("dial failed", zap.Error(err))
		c.setState(StateDisconnected)
		c.scheduleBackoff()
		return
	}

	c.tr = tr
	c.setState(StateOpen)
	c.bo.Reset()

	// Reapply the active filter so server-side state matches client intent
	// without any UI involvement.
	if len(c.filters) > 0 {
		c.send(outboundAction{Action: actionSubscribe, Filters: c.filters})
	}

	for _, h := range c.onConnect {
		h := h
		c.invoke("connect handler", func() { h() })
	}

	go c.readPump(gen, tr)
}

// readPump forwards frames from one transport onto the run loop. It exits
// when the transport closes; the generation number lets the loop discard
// anything from a transport that has since been replaced.
func (c *Client) readPump(gen int, tr Transport) {
	for {
		data, err := tr.Read(context.Background())
		if err != nil {
			code, reason := CloseAbnormal, err.Error()
			var ce CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Reason
			}
			c.do(func() { c.transportClosed(gen, code, reason) })
			return
		}
		msg := data
		c.do(func() { c.handleMessage(gen, msg) })
	}
}

// transportClosed handles a transport-level close. Loop-owned.
func (c *Client) transportClosed(gen int, code CloseCode, reason string) {
	if gen != c.gen {
		return
	}
	c.tr = nil
	c.setState(StateDisconnected)
	c.emitDisconnected(code, reason)

	switch code {
	case CloseNormal:
		// Clean shutdown, stay down.
	case CloseDisabled:
		c.log.Info("realtime feature disabled by server", zap.String("reason", reason))
	case CloseCapacity:
		c.log.Info("server shedding connections, cooling down",
			zap.Duration("delay", capacityCooldown))
		c.scheduleReconnect(capacityCooldown)
	default:
		c.scheduleBackoff()
	}
}

func (c *Client) emitDisconnected(code CloseCode, reason string) {
	for _, h := range c.onDisconnect {
		h := h
		c.invoke("disconnect handler", func() { h(code, reason) })
	}
}

// ============================================================================
// Reconnection Policy
// ============================================================================

// scheduleBackoff schedules the next reconnect attempt with capped
// exponential backoff, respecting the attempt ceiling. Loop-owned.
func (c *Client) scheduleBackoff() {
	if !c.autoReconnect {
		return
	}
	if int(c.bo.Attempt()) >= c.maxAttempts {
		c.log.Warn("reconnect attempts exhausted, explicit Connect required",
			zap.Int("max_attempts", c.maxAttempts))
		return
	}
	c.scheduleReconnect(c.bo.Duration())
}

// scheduleReconnect arms the reconnect timer. At most one timer is ever
// pending; arming cancels any prior one. Loop-owned.
func (c *Client) scheduleReconnect(delay time.Duration) {
	if !c.autoReconnect {
		return
	}
	c.stopReconnectTimer()

	attempt := int(c.bo.Attempt())
	c.log.Info("scheduling reconnect",
		zap.Int("attempt", attempt), zap.Duration("delay", delay))
	for _, h := range c.onReconnecting {
		h := h
		c.invoke("reconnecting handler", func() { h(attempt, delay) })
	}

	c.reconnectTimer = c.afterFunc(delay, func() {
		c.do(func() {
			c.reconnectTimer = nil
			if !c.autoReconnect || c.State() != StateDisconnected {
				return
			}
			c.startDial()
		})
	})
}

func (c *Client) stopReconnectTimer() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// ============================================================================
// Subscription Management
// ============================================================================

// Subscribe replaces the active filter set and, if currently open, sends
// it to the server immediately. The filter is resent automatically after
// every reconnect until replaced or cleared.
func (c *Client) Subscribe(filters map[string]string) {
	copied := make(map[string]string, len(filters))
	for k, v := range filters {
		copied[k] = v
	}
	c.do(func() {
		c.filters = copied
		if c.State() == StateOpen {
			c.send(outboundAction{Action: actionSubscribe, Filters: copied})
		}
	})
}

// Unsubscribe clears the active filter set and informs the server.
func (c *Client) Unsubscribe() {
	c.do(func() {
		c.filters = nil
		if c.State() == StateOpen {
			c.send(outboundAction{Action: actionUnsubscribe})
		}
	})
}

// ============================================================================
// Outbound Actions
// ============================================================================

// Annotate posts an annotation into a context. Best-effort: silently
// dropped unless the connection is open.
func (c *Client) Annotate(contextType, contextID, content string) {
	c.do(func() {
		c.send(outboundAction{
			Action:      actionAnnotate,
			ContextType: contextType,
			ContextID:   contextID,
			Content:     content,
		})
	})
}

// React adds a reaction to an annotation. Best-effort: silently dropped
// unless the connection is open.
func (c *Client) React(contextType, contextID, noteID, reaction string) {
	c.do(func() {
		c.send(outboundAction{
			Action:      actionReact,
			ContextType: contextType,
			ContextID:   contextID,
			NoteID:      noteID,
			Reaction:    reaction,
		})
	})
}

// send transmits one action on the current transport. Loop-owned.
func (c *Client) send(act outboundAction) {
	if c.State() != StateOpen || c.tr == nil {
		c.log.Debug("dropping outbound action, connection not open",
			zap.String("action", act.Action))
		return
	}
	data, err := json.Marshal(act)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.tr.Send(ctx, data); err != nil {
		c.log.Debug("send failed", zap.String("action", act.Action), zap.Error(err))
	}
}

// ============================================================================
// Event Dispatch
// ============================================================================

// On registers a handler for an event type and returns a function that
// removes exactly that handler. Registering the same function twice for
// the same type keeps a single registration.
func (c *Client) On(eventType string, h Handler) func() {
	key := reflect.ValueOf(h).Pointer()
	c.do(func() {
		set, ok := c.registry[eventType]
		if !ok {
			set = make(map[uintptr]Handler)
			c.registry[eventType] = set
		}
		set[key] = h
	})
	return func() {
		c.do(func() {
			if set, ok := c.registry[eventType]; ok {
				delete(set, key)
				if len(set) == 0 {
					delete(c.registry, eventType)
				}
			}
		})
	}
}

// handleMessage processes one inbound frame. Loop-owned.
func (c *Client) handleMessage(gen int, raw []byte) {
	if gen != c.gen {
		return
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		c.log.Debug("dropping malformed frame", zap.Int("bytes", len(raw)))
		return
	}
	if env.Type == eventPing {
		// Answer the liveness probe before anything else; probes never
		// reach the handler registry.
		c.send(outboundAction{Action: actionPing})
		return
	}
	c.dispatch(env, raw)
}

// dispatch delivers an event to every matching handler, isolating each
// callback's failure from its siblings.
func (c *Client) dispatch(env Envelope, raw []byte) {
	payload := json.RawMessage(raw)
	if len(env.Data) > 0 && string(env.Data) != "null" {
		payload = env.Data
	}

	c.dispatchTyped(env.Type, payload)

	for _, h := range c.registry[env.Type] {
		h := h
		c.invoke(env.Type+" handler", func() { h(payload) })
	}
}

func (c *Client) dispatchTyped(eventType string, payload json.RawMessage) {
	switch eventType {
	case EventPresence:
		var p PresencePayload
		if json.Unmarshal(payload, &p) == nil {
			for _, h := range c.onPresence {
				h := h
				c.invoke("presence handler", func() { h(p) })
			}
		}
	case EventNoteCreated:
		var p NotePayload
		if json.Unmarshal(payload, &p) == nil {
			for _, h := range c.onNote {
				h := h
				c.invoke("note handler", func() { h(p) })
			}
		}
	case EventReactionAdded:
		var p ReactionPayload
		if json.Unmarshal(payload, &p) == nil {
			for _, h := range c.onReaction {
				h := h
				c.invoke("reaction handler", func() { h(p) })
			}
		}
	case EventGameUpdate:
		var p GameUpdatePayload
		if json.Unmarshal(payload, &p) == nil {
			for _, h := range c.onGameUpdate {
				h := h
				c.invoke("game update handler", func() { h(p) })
			}
		}
	case EventScoreUpdate:
		var p ScoreUpdatePayload
		if json.Unmarshal(payload, &p) == nil {
			for _, h := range c.onScoreUpdate {
				h := h
				c.invoke("score update handler", func() { h(p) })
			}
		}
	}
}

// invoke runs a callback with panic isolation so one failing handler
// cannot suppress delivery to the others or crash the dispatch loop.
func (c *Client) invoke(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("handler panicked",
				zap.String("handler", name), zap.Any("panic", r))
		}
	}()
	f()
}

// ============================================================================
// Typed Registration
// ============================================================================

// OnPresence registers a handler for presence events.
func (c *Client) OnPresence(h func(PresencePayload)) {
	c.do(func() { c.onPresence = append(c.onPresence, h) })
}

// OnNoteCreated registers a handler for new annotations.
func (c *Client) OnNoteCreated(h func(NotePayload)) {
	c.do(func() { c.onNote = append(c.onNote, h) })
}

// OnReactionAdded registers a handler for reactions.
func (c *Client) OnReactionAdded(h func(ReactionPayload)) {
	c.do(func() { c.onReaction = append(c.onReaction, h) })
}

// OnGameUpdate registers a handler for live game updates.
func (c *Client) OnGameUpdate(h func(GameUpdatePayload)) {
	c.do(func() { c.onGameUpdate = append(c.onGameUpdate, h) })
}

// OnScoreUpdate registers a handler for live score updates.
func (c *Client) OnScoreUpdate(h func(ScoreUpdatePayload)) {
	c.do(func() { c.onScoreUpdate = append(c.onScoreUpdate, h) })
}

// OnConnect registers a handler for the connected meta-event. It fires
// after the subscription filter has been reapplied.
func (c *Client) OnConnect(h func()) {
	c.do(func() { c.onConnect = append(c.onConnect, h) })
}

// OnDisconnect registers a handler for the disconnected meta-event.
func (c *Client) OnDisconnect(h func(code CloseCode, reason string)) {
	c.do(func() { c.onDisconnect = append(c.onDisconnect, h) })
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (c *Client) OnReconnecting(h func(attempt int, delay time.Duration)) {
	c.do(func() { c.onReconnecting = append(c.onReconnecting, h) })
}
