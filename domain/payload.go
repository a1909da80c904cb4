package domain

import (
	"time"

	"github.com/samber/lo"
)

// Payloads the gateway writes to sockets.

type StatusPayload struct {
	Type       string `json:"type"`
	ChatRoomID RoomID `json:"chatRoomId"`
	Nickname   string `json:"nickname"`
	IsOnline   bool   `json:"isOnline"`
}

type MessagePayload struct {
	Type       string    `json:"type"`
	ChatRoomID RoomID    `json:"chatRoomId"`
	Sender     string    `json:"sender"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	ID         string    `json:"id"`
}

type NoticePayload struct {
	Type       string `json:"type"`
	ChatRoomID RoomID `json:"chatRoomId"`
	Sender     string `json:"sender"`
	Message    string `json:"message"`
}

type PreviousMessagesPayload struct {
	Type     string           `json:"type"`
	Messages []MessagePayload `json:"messages"`
}

// PushRequest is published to the notification queue when a message reaches offline members.
type PushRequest struct {
	ChatRoomID          RoomID          `json:"chatRoomId"`
	Sender              string          `json:"sender"`
	Message             string          `json:"message"`
	OfflineParticipants []PushRecipient `json:"offlineParticipants"`
}

type PushRecipient struct {
	Nickname  string   `json:"nickname"`
	FcmTokens []string `json:"fcmTokens"`
}

func NewStatus(room RoomID, nickname string, online bool) StatusPayload {
	return StatusPayload{Type: "status", ChatRoomID: room, Nickname: nickname, IsOnline: online}
}

func NewMessagePayload(room RoomID, m Message) MessagePayload {
	return MessagePayload{
		Type:       string(EventMessage),
		ChatRoomID: room,
		Sender:     m.Sender,
		Message:    m.Text,
		Timestamp:  m.Timestamp,
		ID:         m.ID,
	}
}

func NewNoticePayload(room RoomID, n Notice) NoticePayload {
	return NoticePayload{Type: string(EventNotice), ChatRoomID: room, Sender: n.Sender, Message: n.Text}
}

func NewPreviousMessages(room RoomID, messages []Message) PreviousMessagesPayload {
	return PreviousMessagesPayload{
		Type: "previousMessages",
		Messages: lo.Map(messages, func(m Message, _ int) MessagePayload {
			return NewMessagePayload(room, m)
		}),
	}
}

func NewPushRequest(room RoomID, sender, text string, offline []Participant) PushRequest {
	return PushRequest{
		ChatRoomID: room,
		Sender:     sender,
		Message:    text,
		OfflineParticipants: lo.Map(offline, func(p Participant, _ int) PushRecipient {
			return PushRecipient{Nickname: p.Name, FcmTokens: p.FcmTokens}
		}),
	}
}
