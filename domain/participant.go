// Package domain contains core concepts of the chat system.
// This file defines Participant entities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import "slices"

// Participant is a member of a room as the room store knows it.
// Name is the nickname used on the socket, unique within a room.
type Participant struct {
	Name              string   `json:"name"`
	FcmTokens         []string `json:"fcmTokens,omitempty"`
	Online            bool     `json:"online"`
	LastReadMessageID string   `json:"lastReadMessageId,omitempty"`
}

// HasToken reports whether the push token is already registered for the participant.
func (p Participant) HasToken(token string) bool {
	return slices.Contains(p.FcmTokens, token)
}

// MergeTokens appends the tokens not yet known, keeping order.
func (p *Participant) MergeTokens(tokens ...string) {
	for _, t := range tokens {
		if t != "" && !p.HasToken(t) {
			p.FcmTokens = append(p.FcmTokens, t)
		}
	}
}
