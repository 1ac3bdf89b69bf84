package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandAuth binds the connection to an identity.
	CommandAuth CommandKind = iota
	// CommandSendMessage persists a message and fans it out to the session.
	CommandSendMessage
	// CommandTyping starts or refreshes the sender's typing indicator.
	CommandTyping
	// CommandStopTyping clears the sender's typing indicator.
	CommandStopTyping
)

// Command represents an application frame after decoding.
type Command struct {
	Kind      CommandKind
	UserID    string // claimed identity (auth only)
	Token     string // identity credential (auth only)
	SessionID string
	Text      string
}
