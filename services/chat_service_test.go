package services

import (
	"chat-gateway/domain"
	"chat-gateway/errors"
	"chat-gateway/mocks"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestChatService_CreateRoom(t *testing.T) {
	ctrl := gomock.NewController(t)
	catalog := mocks.NewMockRoomCatalog(ctrl)
	svc := NewChatService(catalog)
	ctx := context.Background()

	t.Run("should create a missing room", func(t *testing.T) {
		req := require.New(t)
		catalog.EXPECT().FindRoom(ctx, domain.RoomID("R1")).Return(domain.Room{}, errors.ErrRoomNotFound)
		catalog.EXPECT().SaveRoom(ctx, domain.Room{ID: "R1", Name: "general"}).Return(nil)

		req.NoError(svc.CreateRoom(ctx, "R1", "general"))
	})

	t.Run("should rename an existing room and keep its members", func(t *testing.T) {
		req := require.New(t)
		existing := domain.Room{
			ID:           "R1",
			Name:         "old",
			Participants: []domain.Participant{{Name: "A"}},
			Messages:     []domain.Message{{ID: "m-1"}},
		}
		catalog.EXPECT().FindRoom(ctx, domain.RoomID("R1")).Return(existing, nil)
		catalog.EXPECT().SaveRoom(ctx, domain.Room{
			ID:           "R1",
			Name:         "general",
			Participants: []domain.Participant{{Name: "A"}},
		}).Return(nil)

		req.NoError(svc.CreateRoom(ctx, "R1", "general"))
	})

	t.Run("should not overwrite a room it failed to read", func(t *testing.T) {
		req := require.New(t)
		catalog.EXPECT().FindRoom(ctx, domain.RoomID("R1")).Return(domain.Room{}, fmt.Errorf("io error"))
		catalog.EXPECT().SaveRoom(gomock.Any(), gomock.Any()).Times(0)

		req.Error(svc.CreateRoom(ctx, "R1", "general"))
	})
}

func TestChatService_Rooms_SortedByID(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	catalog := mocks.NewMockRoomCatalog(ctrl)
	svc := NewChatService(catalog)

	catalog.EXPECT().ListRooms(gomock.Any()).Return([]domain.Room{{ID: "b"}, {ID: "a"}, {ID: "c"}}, nil)

	rooms, err := svc.Rooms(context.Background())
	req.NoError(err)
	req.Equal([]domain.RoomID{"a", "b", "c"}, []domain.RoomID{rooms[0].ID, rooms[1].ID, rooms[2].ID})
}
