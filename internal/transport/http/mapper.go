package http

import (
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/wirechat-gateway/internal/core"
	"github.com/vovakirdan/wirechat-gateway/internal/proto"
)

var errUnknownFrame = errors.New("unknown frame type")

// inboundToCommand maps an application frame to a core command. Liveness
// frames never reach it.
func inboundToCommand(in proto.Inbound) (*core.Command, error) {
	switch in.Type {
	case proto.TypeAuth:
		return &core.Command{Kind: core.CommandAuth, UserID: in.UserID, Token: in.Token}, nil
	case proto.TypeMessage:
		return &core.Command{Kind: core.CommandSendMessage, SessionID: in.SessionID, Text: in.Text}, nil
	case proto.TypeTyping:
		return &core.Command{Kind: core.CommandTyping, SessionID: in.SessionID}, nil
	case proto.TypeStopTyping:
		return &core.Command{Kind: core.CommandStopTyping, SessionID: in.SessionID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownFrame, in.Type)
	}
}

func outboundFromEvent(ev *core.Event) proto.Outbound {
	switch ev.Kind {
	case core.EventMessage:
		msg := messageToProto(ev.Message)
		return proto.Outbound{Type: proto.TypeMessage, SessionID: ev.SessionID, Message: &msg}
	case core.EventTyping:
		return proto.Outbound{Type: proto.TypeTyping, SessionID: ev.SessionID, UserID: ev.User}
	case core.EventStopTyping:
		return proto.Outbound{Type: proto.TypeStopTyping, SessionID: ev.SessionID, UserID: ev.User}
	case core.EventPresence:
		online := ev.Online
		return proto.Outbound{Type: proto.TypePresence, UserID: ev.User, Online: &online}
	case core.EventPong:
		return proto.Outbound{Type: proto.TypePong, TS: ev.At.UnixMilli()}
	default:
		return proto.Outbound{Type: ev.Kind.String()}
	}
}

func messageToProto(m core.Message) proto.Message {
	return proto.Message{
		ID:        m.ID,
		SessionID: m.SessionID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
