package fastbreak

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Inbound Envelope
// ============================================================================

// Envelope is the wire format for all server-pushed messages.
//
// Only Type is mandatory; every other field is populated per event family.
// Frames that do not decode into this shape are dropped at the transport
// boundary and never reach application handlers.
type Envelope struct {
	Type         string            `json:"type"`
	Data         json.RawMessage   `json:"data,omitempty"`
	Timestamp    string            `json:"timestamp,omitempty"`
	ConnectionID string            `json:"connection_id,omitempty"`
	SessionToken string            `json:"session_token,omitempty"`
	ServerTime   string            `json:"server_time,omitempty"`
	Filters      map[string]string `json:"filters,omitempty"`
	Code         string            `json:"code,omitempty"`
	Message      string            `json:"message,omitempty"`
}

// ============================================================================
// Event Types
// ============================================================================

// Well-known server event types. Handlers may also be registered for any
// other type string the server emits; unknown types are simply not
// dispatched.
const (
	EventPresence      = "presence"
	EventNoteCreated   = "note_created"
	EventReactionAdded = "reaction_added"
	EventGameUpdate    = "game_update"
	EventScoreUpdate   = "score_update"

	// eventPing is the server liveness probe. It is answered internally and
	// never dispatched to handlers.
	eventPing = "ping"
)

// PresencePayload is sent when the viewer count of a context changes.
type PresencePayload struct {
	ContextType string `json:"context_type"`
	ContextID   string `json:"context_id"`
	Count       int    `json:"count"`
}

// NotePayload is sent when a new annotation is created in a context.
type NotePayload struct {
	ID          string `json:"id"`
	ContextType string `json:"context_type"`
	ContextID   string `json:"context_id"`
	Content     string `json:"content"`
	Author      string `json:"author,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// ReactionPayload is sent when a reaction is added to an annotation.
type ReactionPayload struct {
	NoteID      string `json:"note_id"`
	ContextType string `json:"context_type"`
	ContextID   string `json:"context_id"`
	Reaction    string `json:"reaction"`
	Count       int    `json:"count,omitempty"`
}

// GameUpdatePayload is sent when the state of a live game changes.
type GameUpdatePayload struct {
	GameID   string `json:"game_id"`
	Status   string `json:"status"`
	Period   int    `json:"period,omitempty"`
	Clock    string `json:"clock,omitempty"`
	HomeTeam string `json:"home_team,omitempty"`
	AwayTeam string `json:"away_team,omitempty"`
}

// ScoreUpdatePayload is sent when the score of a live game changes.
type ScoreUpdatePayload struct {
	GameID    string `json:"game_id"`
	HomeScore int    `json:"home_score"`
	AwayScore int    `json:"away_score"`
	Period    int    `json:"period,omitempty"`
	Clock     string `json:"clock,omitempty"`
}

// ============================================================================
// Outbound Actions
// ============================================================================

// outboundAction is the wire format for all client-to-server messages.
// Action discriminates; the remaining fields are populated per action.
type outboundAction struct {
	Action      string            `json:"action"`
	Filters     map[string]string `json:"filters,omitempty"`
	ContextType string            `json:"context_type,omitempty"`
	ContextID   string            `json:"context_id,omitempty"`
	Content     string            `json:"content,omitempty"`
	NoteID      string            `json:"note_id,omitempty"`
	Reaction    string            `json:"reaction,omitempty"`
}

const (
	actionPing        = "ping"
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionAnnotate    = "annotate"
	actionReact       = "react"
)

// ============================================================================
// Close Codes
// ============================================================================

// CloseCode is a WebSocket close status as classified by the server.
type CloseCode int

// Server close-code contract. Codes outside this set are treated as
// abnormal closures and recovered with standard backoff.
const (
	// CloseNormal is a clean client- or server-initiated shutdown.
	// No reconnection is attempted.
	CloseNormal CloseCode = 1000

	// CloseAbnormal means the connection dropped without a close frame.
	CloseAbnormal CloseCode = 1006

	// CloseCapacity means the server is shedding connections. The client
	// waits a long fixed cool-down before a single reconnect attempt.
	CloseCapacity CloseCode = 4001

	// CloseDisabled means the realtime feature is turned off server-side.
	// The client stays down until an explicit Connect call.
	CloseDisabled CloseCode = 4002
)

// CloseError reports a transport closure together with its server-assigned
// close code. Transports return it from Read when the peer closed the
// connection.
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e CloseError) Error() string {
	return fmt.Sprintf("connection closed: code=%d reason=%q", e.Code, e.Reason)
}
