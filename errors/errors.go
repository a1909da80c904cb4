package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	ErrUnknownEventType    = fmt.Errorf("unknown event type")
	ErrInvalidEvent        = fmt.Errorf("invalid event")
	ErrRoomNotFound        = fmt.Errorf("room not found")
	ErrInvalidRoomID       = fmt.Errorf("invalid room id")
	ErrParticipantNotFound = fmt.Errorf("participant not found")
	ErrConnectionTimedOut  = fmt.Errorf("connection timed out")
	ErrAlreadyJoined       = fmt.Errorf("connection already joined another room")
	ErrRoomMismatch        = fmt.Errorf("event targets a room the connection did not join")
)
