package services

import (
	"chat-gateway/contract"
	"chat-gateway/domain"
	gatewayerrors "chat-gateway/errors"
	"context"
	"errors"
	"fmt"
	"sort"
)

type IChatService interface {
	CreateRoom(ctx context.Context, id domain.RoomID, name string) error
	Rooms(ctx context.Context) ([]domain.Room, error)
	History(ctx context.Context, id domain.RoomID) (domain.Room, error)
}

// ChatService is the operator facade over the room catalog used by tooling.
type ChatService struct {
	catalog contract.RoomCatalog
}

func NewChatService(catalog contract.RoomCatalog) *ChatService {
	return &ChatService{catalog: catalog}
}

// CreateRoom registers an empty room. Creating an existing room keeps its members and log.
func (s *ChatService) CreateRoom(ctx context.Context, id domain.RoomID, name string) error {
	room, err := s.catalog.FindRoom(ctx, id)
	switch {
	case errors.Is(err, gatewayerrors.ErrRoomNotFound):
		return s.catalog.SaveRoom(ctx, *domain.NewRoom(id, name))
	case err != nil:
		return err
	}
	room.Name = name
	room.Messages = nil
	return s.catalog.SaveRoom(ctx, room)
}

// Rooms lists every room sorted by id.
func (s *ChatService) Rooms(ctx context.Context) ([]domain.Room, error) {
	rooms, err := s.catalog.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

func (s *ChatService) History(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	return s.catalog.FindRoom(ctx, id)
}
