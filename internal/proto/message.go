package proto

import "encoding/json"

// Frame types. Every frame is one flat JSON object discriminated by "type".
const (
	TypeAuth       = "auth"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeMessage    = "message"
	TypeTyping     = "typing"
	TypeStopTyping = "stop-typing"
	TypePresence   = "presence"
)

// Inbound is a frame received from a client. Unused fields stay empty.
type Inbound struct {
	Type      string `json:"type"`
	UserID    string `json:"userId,omitempty"`
	Token     string `json:"token,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Text      string `json:"text,omitempty"`
	TS        int64  `json:"ts,omitempty"`
}

// Decode parses one inbound frame.
func Decode(data []byte) (Inbound, error) {
	var in Inbound
	err := json.Unmarshal(data, &in)
	return in, err
}

// Message is the persisted message as it appears on the wire.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

// Outbound is a frame sent to a client.
type Outbound struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId,omitempty"`
	UserID    string   `json:"userId,omitempty"`
	Online    *bool    `json:"online,omitempty"`
	Message   *Message `json:"message,omitempty"`
	TS        int64    `json:"ts,omitempty"`
}

// AuthFrame builds the client handshake frame.
func AuthFrame(userID, token string) Inbound {
	return Inbound{Type: TypeAuth, UserID: userID, Token: token}
}

// MessageFrame builds a client message frame.
func MessageFrame(sessionID, text string) Inbound {
	return Inbound{Type: TypeMessage, SessionID: sessionID, Text: text}
}

// TypingFrame builds a client typing or stop-typing frame.
func TypingFrame(kind, sessionID, userID string) Inbound {
	return Inbound{Type: kind, SessionID: sessionID, UserID: userID}
}

// PingFrame builds a liveness probe.
func PingFrame() Inbound {
	return Inbound{Type: TypePing}
}

// WSPath is the well-known path of the websocket upgrade.
const WSPath = "/api/ws"
