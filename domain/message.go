// Package domain contains core concepts of the chat system.
// This file defines Message events and related rules.
// Messages are immutable once appended to a room log.
package domain

import (
	"fmt"
	"time"
)

// SystemSender signs the synthetic join/leave entries of a room log.
const SystemSender = "system"

// Message represents an immutable chat event of a room log.
type Message struct {
	ID        string    `json:"id"` // assigned by the room store
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	System    bool      `json:"system,omitempty"`
}

// Notice is a pinned announcement of a room, kept apart from the message log.
type Notice struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func JoinedMessage(nickname string, at time.Time) Message {
	return Message{
		Sender:    SystemSender,
		Text:      fmt.Sprintf("%s joined the room", nickname),
		Timestamp: at,
		System:    true,
	}
}

func LeftMessage(nickname string, at time.Time) Message {
	return Message{
		Sender:    SystemSender,
		Text:      fmt.Sprintf("%s left the room", nickname),
		Timestamp: at,
		System:    true,
	}
}
