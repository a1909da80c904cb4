package domain

import (
	"encoding/json"
	"fmt"

	"chat-gateway/errors"

	"github.com/go-playground/validator/v10"
)

type EventType string

const (
	EventHeartbeat EventType = "heartbeat"
	EventJoin      EventType = "join"
	EventMessage   EventType = "message"
	EventLeave     EventType = "leave"
	EventNotice    EventType = "notice"
)

// Event is a decoded client frame. The concrete types below are the only implementations.
type Event interface {
	Type() EventType
	RoomID() RoomID
	Nickname() string
	isEvent()
}

type envelope struct {
	ChatRoomID RoomID
	Nick       string
}

func (e envelope) RoomID() RoomID   { return e.ChatRoomID }
func (e envelope) Nickname() string { return e.Nick }
func (envelope) isEvent()           {}

type HeartbeatEvent struct{ envelope }

type JoinEvent struct {
	envelope
	FcmToken string
}

type MessageEvent struct {
	envelope
	Text string
}

type LeaveEvent struct{ envelope }

type NoticeEvent struct {
	envelope
	Text string
}

func (HeartbeatEvent) Type() EventType { return EventHeartbeat }
func (JoinEvent) Type() EventType      { return EventJoin }
func (MessageEvent) Type() EventType   { return EventMessage }
func (LeaveEvent) Type() EventType     { return EventLeave }
func (NoticeEvent) Type() EventType    { return EventNotice }

// ClientPayload is the JSON document carried by a client text frame.
type ClientPayload struct {
	Type       EventType `json:"type" validate:"required"`
	ChatRoomID RoomID    `json:"chatRoomId" validate:"required_unless=Type heartbeat"`
	Nickname   string    `json:"nickname" validate:"required_unless=Type heartbeat"`
	Text       string    `json:"text,omitempty" validate:"required_if=Type message,required_if=Type notice"`
	FcmToken   string    `json:"fcmToken,omitempty"`
}

var validate = validator.New()

// ParseEvent decodes and validates a client payload into its concrete event.
func ParseEvent(data []byte) (Event, error) {
	var p ClientPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidEvent, err)
	}

	env := envelope{ChatRoomID: p.ChatRoomID, Nick: p.Nickname}
	var evt Event
	switch p.Type {
	case EventHeartbeat:
		evt = HeartbeatEvent{env}
	case EventJoin:
		evt = JoinEvent{envelope: env, FcmToken: p.FcmToken}
	case EventMessage:
		evt = MessageEvent{envelope: env, Text: p.Text}
	case EventLeave:
		evt = LeaveEvent{env}
	case EventNotice:
		evt = NoticeEvent{envelope: env, Text: p.Text}
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownEventType, p.Type)
	}

	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidEvent, err)
	}
	return evt, nil
}
