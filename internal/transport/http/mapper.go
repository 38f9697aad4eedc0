package http

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vovakirdan/wiregate/internal/conference"
	"github.com/vovakirdan/wiregate/internal/core"
	"github.com/vovakirdan/wiregate/internal/proto"
)

var (
	// errMalformed closes the connection that sent it.
	errMalformed   = errors.New("malformed message")
	errUnknownType = errors.New("unknown message type")
)

func decode(in proto.Inbound, v any) error {
	if err := json.Unmarshal(in.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", errMalformed, in.Type, err)
	}
	return nil
}

func inboundToCommand(in proto.Inbound) (*core.Command, error) {
	switch in.Type {
	case proto.InboundTypeJoin, proto.InboundTypeLeave:
		var data proto.RoomData
		if err := decode(in, &data); err != nil {
			return nil, err
		}
		kind := core.CommandJoinRoom
		if in.Type == proto.InboundTypeLeave {
			kind = core.CommandLeaveRoom
		}
		return &core.Command{Kind: kind, Room: data.Room}, nil
	case proto.InboundTypeMsg:
		var data proto.MsgData
		if err := decode(in, &data); err != nil {
			return nil, err
		}
		return &core.Command{
			Kind: core.CommandSendRoomMessage,
			Room: data.Room,
			Message: core.Message{
				Room:  data.Room,
				Text:  data.Text,
				Emote: data.Emote,
			},
		}, nil
	case proto.InboundTypeKick:
		var data proto.KickData
		if err := decode(in, &data); err != nil {
			return nil, err
		}
		return &core.Command{Kind: core.CommandKick, Room: data.Room, Target: data.User}, nil
	case proto.InboundTypePing:
		return &core.Command{Kind: core.CommandPing}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownType, in.Type)
	}
}

func event(name string, data any) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: data}
}

func outboundFromEvent(ev *core.Event) proto.Outbound {
	switch ev.Kind {
	case core.EventJoinAck:
		return event(proto.EventJoinAck, proto.EventJoinAckData{Room: ev.Room, User: ev.User, Users: ev.Users})
	case core.EventUserJoined:
		return event(proto.EventJoin, proto.EventPresenceData{Room: ev.Room, User: ev.User})
	case core.EventLeaveAck:
		return event(proto.EventLeaveAck, proto.EventPresenceData{Room: ev.Room, User: ev.User})
	case core.EventUserLeft:
		return event(proto.EventLeave, proto.EventPresenceData{Room: ev.Room, User: ev.User})
	case core.EventRoomMessage:
		return event(proto.EventMsg, proto.EventMsgData{
			Room:  ev.Message.Room,
			User:  ev.Message.From,
			Text:  ev.Message.Text,
			Emote: ev.Message.Emote,
			TS:    ev.Message.CreatedAt.Unix(),
		})
	case core.EventKicked:
		return event(proto.EventKicked, proto.EventKickedData{Room: ev.Room, User: ev.User, By: ev.By})
	case core.EventDisconnected:
		return event(proto.EventDisconnected, proto.EventDisconnectedData{User: ev.User})
	case core.EventPong:
		return event(proto.EventPong, nil)
	case core.EventNotification:
		if ev.Notification == nil {
			return event("", nil)
		}
		return event(ev.Notification.Type, ev.Notification.Payload)
	case core.EventError:
		if ev.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: ev.Error.Code, Msg: ev.Error.Message, Room: ev.Room},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

// controlRequest is a parsed monitor command.
type controlRequest struct {
	kind   string
	conf   string
	action string
	id     int
}

func inboundToControl(in proto.Inbound) (controlRequest, error) {
	switch in.Type {
	case proto.InboundTypeMonitorStart, proto.InboundTypeMonitorStop:
		var data proto.ConfData
		if err := decode(in, &data); err != nil {
			return controlRequest{}, err
		}
		return controlRequest{kind: in.Type, conf: data.Conf}, nil
	case proto.InboundTypeMute, proto.InboundTypeUnmute, proto.InboundTypeKick:
		var data proto.MemberData
		if err := decode(in, &data); err != nil {
			return controlRequest{}, err
		}
		return controlRequest{kind: in.Type, conf: data.Conf, action: in.Type, id: data.ID}, nil
	default:
		return controlRequest{}, fmt.Errorf("%w: %q", errUnknownType, in.Type)
	}
}

func outboundFromConference(ev conference.Event) proto.Outbound {
	if ev.Kind == conference.EventConference {
		return event(proto.EventConference, ev.Conference)
	}
	return event(ev.Kind, ev.Member)
}
