package storage

import (
	"chat-gateway/contract"
	"chat-gateway/domain"
	"chat-gateway/errors"
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	_ contract.RoomStore   = (*RoomRepository)(nil)
	_ contract.RoomCatalog = (*RoomRepository)(nil)
)

const (
	roomPrefix    = "room:"
	messagePrefix = "msg:"

	maxConflictBackoff = 10 * time.Millisecond
)

// roomRecord is the room header. Messages live under their own keys.
type roomRecord struct {
	ID           domain.RoomID        `json:"id"`
	Name         string               `json:"name"`
	Participants []domain.Participant `json:"participants"`
	Notices      []domain.Notice      `json:"notices,omitempty"`
}

// RoomRepository stores rooms in Badger. Read-modify-write of a room header is
// serialized per room, and transaction conflicts with other handles on the same
// database are retried.
type RoomRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
	locks         sync.Map // domain.RoomID -> *sync.Mutex
}

func NewRoomRepository(db *badger.DB, log *slog.Logger, limitMessages *int) *RoomRepository {
	return &RoomRepository{db: db, log: log, limitMessages: limitMessages}
}

func roomKey(id domain.RoomID) []byte {
	return []byte(roomPrefix + string(id))
}

func messageRoomPrefix(id domain.RoomID) []byte {
	return []byte(fmt.Sprintf("%s%s:", messagePrefix, id))
}

// messageKey is "msg:{room_id}:{timestamp_padded}:{uuid}". The 19-digit padding keeps
// lexicographical order chronological, the uuid breaks ties within a nanosecond.
func messageKey(id domain.RoomID, msg domain.Message) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s", messagePrefix, id, msg.Timestamp.UnixNano(), msg.ID))
}

// SaveRoom creates or replaces a room header and appends the messages it carries.
func (r *RoomRepository) SaveRoom(ctx context.Context, room domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if room.ID == "" || strings.Contains(string(room.ID), ":") {
		return fmt.Errorf("%w: %q", errors.ErrInvalidRoomID, room.ID)
	}
	return r.updateRoom(ctx, room.ID, func(txn *badger.Txn) error {
		record := roomRecord{ID: room.ID, Name: room.Name, Participants: room.Participants, Notices: room.Notices}
		if err := putRecord(txn, record); err != nil {
			return err
		}
		for _, msg := range room.Messages {
			if _, err := putMessage(txn, room.ID, msg); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindRoom returns the room header with its most recent messages, oldest first.
func (r *RoomRepository) FindRoom(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return domain.Room{}, err
	}
	var room domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		record, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		messages, err := r.lastMessages(txn, id)
		if err != nil {
			return err
		}
		room = domain.Room{
			ID:           record.ID,
			Name:         record.Name,
			Participants: record.Participants,
			Notices:      record.Notices,
			Messages:     messages,
		}
		return nil
	})
	return room, err
}

// ListRooms returns every room header, without messages.
func (r *RoomRepository) ListRooms(ctx context.Context) ([]domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rooms []domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(roomPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record roomRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return err
			}
			rooms = append(rooms, domain.Room{
				ID:           record.ID,
				Name:         record.Name,
				Participants: record.Participants,
				Notices:      record.Notices,
			})
		}
		return nil
	})
	return rooms, err
}

// UpdatePresence flips the online flag of the participant identified by room and nickname.
func (r *RoomRepository) UpdatePresence(ctx context.Context, id domain.RoomID, nickname string, online bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.updateRoom(ctx, id, func(txn *badger.Txn) error {
		record, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		idx := slices.IndexFunc(record.Participants, func(p domain.Participant) bool {
			return p.Name == nickname
		})
		if idx < 0 {
			return fmt.Errorf("%w: %s in room %s", errors.ErrParticipantNotFound, nickname, id)
		}
		record.Participants[idx].Online = online
		return putRecord(txn, record)
	})
}

// AppendMessage stores a message in the room log and returns its identifier.
func (r *RoomRepository) AppendMessage(ctx context.Context, id domain.RoomID, message domain.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := getRecord(txn, id)
		return err
	})
	if err != nil {
		return "", err
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	// Message keys are unique and the header is not read, so this write never conflicts
	// with concurrent header updates.
	err = r.update(ctx, func(txn *badger.Txn) error {
		_, err := putMessage(txn, id, message)
		return err
	})
	if err != nil {
		return "", err
	}
	return message.ID, nil
}

func (r *RoomRepository) AppendNotice(ctx context.Context, id domain.RoomID, notice domain.Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if notice.ID == "" {
		notice.ID = uuid.NewString()
	}
	return r.updateRoom(ctx, id, func(txn *badger.Txn) error {
		record, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		record.Notices = append(record.Notices, notice)
		return putRecord(txn, record)
	})
}

// AddParticipant inserts the participant or, when the nickname is already known,
// merges its push tokens and takes over its online flag.
func (r *RoomRepository) AddParticipant(ctx context.Context, id domain.RoomID, participant domain.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.updateRoom(ctx, id, func(txn *badger.Txn) error {
		record, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		idx := slices.IndexFunc(record.Participants, func(p domain.Participant) bool {
			return p.Name == participant.Name
		})
		if idx < 0 {
			record.Participants = append(record.Participants, participant)
		} else {
			existing := &record.Participants[idx]
			existing.MergeTokens(participant.FcmTokens...)
			existing.Online = participant.Online
			if participant.LastReadMessageID != "" {
				existing.LastReadMessageID = participant.LastReadMessageID
			}
		}
		return putRecord(txn, record)
	})
}

func (r *RoomRepository) roomLock(id domain.RoomID) *sync.Mutex {
	lock, _ := r.locks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// updateRoom runs fn in a write transaction while holding the lock of the room.
func (r *RoomRepository) updateRoom(ctx context.Context, id domain.RoomID, fn func(txn *badger.Txn) error) error {
	lock := r.roomLock(id)
	lock.Lock()
	defer lock.Unlock()
	return r.update(ctx, fn)
}

// update runs fn in a write transaction and retries conflicting commits until the
// context ends. Callers bound the retries with a context deadline.
func (r *RoomRepository) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.db.Update(fn)
		if !goerrors.Is(err, badger.ErrConflict) {
			return err
		}
		r.log.Debug("Transaction conflict, retrying", "attempt", attempt)

		backoff := min(time.Duration(attempt)*100*time.Microsecond, maxConflictBackoff)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %d attempts: %w", badger.ErrConflict, attempt, ctx.Err())
		case <-time.After(backoff):
		}
	}
}

// lastMessages walks the room log backwards and keeps at most limitMessages entries.
func (r *RoomRepository) lastMessages(txn *badger.Txn, id domain.RoomID) ([]domain.Message, error) {
	prefix := messageRoomPrefix(id)
	options := badger.DefaultIteratorOptions
	options.Reverse = true
	it := txn.NewIterator(options)
	defer it.Close()

	var messages []domain.Message
	// Seek past the newest possible key, msg:{room}:9999999999999999999
	for it.Seek(append(prefix, []byte("9999999999999999999")...)); it.ValidForPrefix(prefix); it.Next() {
		if r.limitMessages != nil && len(messages) == *r.limitMessages {
			r.log.Debug(fmt.Sprintf("Maximum of %d message reached", *r.limitMessages), "room", id)
			break
		}
		var msg domain.Message
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		}); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return lo.Reverse(messages), nil
}

func getRecord(txn *badger.Txn, id domain.RoomID) (roomRecord, error) {
	item, err := txn.Get(roomKey(id))
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return roomRecord{}, fmt.Errorf("%w: %s", errors.ErrRoomNotFound, id)
	}
	if err != nil {
		return roomRecord{}, err
	}
	var record roomRecord
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &record)
	})
	return record, err
}

func putRecord(txn *badger.Txn, record roomRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return txn.Set(roomKey(record.ID), data)
}

func putMessage(txn *badger.Txn, id domain.RoomID, msg domain.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return msg.ID, txn.Set(messageKey(id, msg), data)
}
