//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-gateway/domain"
	"chat-gateway/runtime"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// RoomStore is the persistence boundary for rooms. The gateway never owns rooms,
// it only mutates them through these calls.
type RoomStore interface {
	FindRoom(ctx context.Context, id domain.RoomID) (domain.Room, error)
	UpdatePresence(ctx context.Context, id domain.RoomID, nickname string, online bool) error
	AppendMessage(ctx context.Context, id domain.RoomID, message domain.Message) (string, error)
	AppendNotice(ctx context.Context, id domain.RoomID, notice domain.Notice) error
	AddParticipant(ctx context.Context, id domain.RoomID, participant domain.Participant) error
}

// RoomCatalog is the operator side of the room store.
type RoomCatalog interface {
	SaveRoom(ctx context.Context, room domain.Room) error
	FindRoom(ctx context.Context, id domain.RoomID) (domain.Room, error)
	ListRooms(ctx context.Context) ([]domain.Room, error)
}

// Publisher pushes a payload to the external notification queue.
// Fire-and-forget: a nil error only means the payload left the process.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// HeartbeatTracker records client heartbeats for the liveness sweep.
type HeartbeatTracker interface {
	Touch(conn *runtime.Connection)
}

// Broadcaster writes server payloads to the registered connections.
type Broadcaster interface {
	Broadcast(roomID domain.RoomID, payload any) int
	SendTo(conn *runtime.Connection, payload any) error
}

// Censor sanitizes user text and reports the words it hid.
type Censor interface {
	Censor(text string) (string, []string)
}
