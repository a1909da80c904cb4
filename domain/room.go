package domain

import "github.com/samber/lo"

type RoomID string

// Room is a chat channel as returned by the room store.
// Messages are ordered oldest first.
type Room struct {
	ID           RoomID        `json:"id"`
	Name         string        `json:"name"`
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages,omitempty"`
	Notices      []Notice      `json:"notices,omitempty"`
}

func NewRoom(id RoomID, name string) *Room {
	return &Room{ID: id, Name: name}
}

// Participant looks a member up by nickname.
func (r *Room) Participant(nickname string) (Participant, bool) {
	return lo.Find(r.Participants, func(p Participant) bool {
		return p.Name == nickname
	})
}

// OfflineParticipants lists members flagged offline, except the given nickname.
func (r *Room) OfflineParticipants(except string) []Participant {
	return lo.Filter(r.Participants, func(p Participant, _ int) bool {
		return !p.Online && p.Name != except
	})
}
