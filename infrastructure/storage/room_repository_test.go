package storage

import (
	"chat-gateway/domain"
	"chat-gateway/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *badger.DB {
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedRoom(t *testing.T, repo *RoomRepository, participants ...domain.Participant) {
	require.NoError(t, repo.SaveRoom(context.Background(), domain.Room{
		ID:           "R1",
		Name:         "general",
		Participants: participants,
	}))
}

func Test_FindRoom_Unknown(t *testing.T) {
	req := require.New(t)
	repo := NewRoomRepository(openDB(t), slog.Default(), nil)

	_, err := repo.FindRoom(context.Background(), "missing")
	req.ErrorIs(err, errors.ErrRoomNotFound)

	_, err = repo.AppendMessage(context.Background(), "missing", domain.Message{Text: "hi"})
	req.ErrorIs(err, errors.ErrRoomNotFound)
}

func Test_SaveRoom_RejectsInvalidID(t *testing.T) {
	req := require.New(t)
	repo := NewRoomRepository(openDB(t), slog.Default(), nil)

	req.ErrorIs(repo.SaveRoom(context.Background(), domain.Room{ID: ""}), errors.ErrInvalidRoomID)
	req.ErrorIs(repo.SaveRoom(context.Background(), domain.Room{ID: "a:b"}), errors.ErrInvalidRoomID)
}

func Test_AppendMessage_And_FindRoom_Sorted(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewRoomRepository(openDB(t), slog.Default(), nil)
	seedRoom(t, repo)

	// Given messages appended out of chronological order
	at := time.Now().UTC()
	for _, m := range []domain.Message{
		{Sender: "Bob", Text: "second", Timestamp: at.Add(time.Minute)},
		{Sender: "Alice", Text: "first", Timestamp: at},
		{Sender: "Clara", Text: "third", Timestamp: at.Add(2 * time.Minute)},
	} {
		id, err := repo.AppendMessage(ctx, "R1", m)
		req.NoError(err)
		req.NotEmpty(id)
	}

	// When fetching the room
	room, err := repo.FindRoom(ctx, "R1")
	req.NoError(err)

	// Then messages come back oldest first with their ids
	req.Equal("general", room.Name)
	req.Len(room.Messages, 3)
	req.Equal([]string{"first", "second", "third"},
		[]string{room.Messages[0].Text, room.Messages[1].Text, room.Messages[2].Text})
	for _, m := range room.Messages {
		req.NotEmpty(m.ID)
	}
}

func Test_AppendMessage_KeepsGivenID(t *testing.T) {
	req := require.New(t)
	repo := NewRoomRepository(openDB(t), slog.Default(), nil)
	seedRoom(t, repo)

	id, err := repo.AppendMessage(context.Background(), "R1", domain.Message{ID: "m-42", Text: "hi", Timestamp: time.Now().UTC()})
	req.NoError(err)
	req.Equal("m-42", id)
}

func Test_FindRoom_LimitKeepsMostRecent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	limit := 2
	repo := NewRoomRepository(openDB(t), slog.Default(), &limit)
	seedRoom(t, repo)

	at := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_, err := repo.AppendMessage(ctx, "R1", domain.Message{
			Sender:    "Alice",
			Text:      fmt.Sprintf("message %d", i),
			Timestamp: at.Add(time.Duration(i) * time.Second),
		})
		req.NoError(err)
	}

	room, err := repo.FindRoom(ctx, "R1")
	req.NoError(err)
	req.Len(room.Messages, limit)
	req.Equal("message 3", room.Messages[0].Text)
	req.Equal("message 4", room.Messages[1].Text)
}

func Test_Messages_DoNotLeakAcrossRooms(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewRoomRepository(openDB(t), slog.Default(), nil)
	req.NoError(repo.SaveRoom(ctx, domain.Room{ID: "R1"}))
	req.NoError(repo.SaveRoom(ctx, domain.Room{ID: "R10"}))

	_, err := repo.AppendMessage(ctx, "R10", domain.Message{Text: "elsewhere", Timestamp: time.Now().UTC()})
	req.NoError(err)

	room, err := repo.FindRoom(ctx, "R1")
	req.NoError(err)
	req.Empty(room.Messages)
}

func Test_UpdatePresence(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewRoomRepository(openDB(t), slog.Default(), nil)
	seedRoom(t, repo, domain.Participant{Name: "A"}, domain.Participant{Name: "B"})

	// When A goes online
	req.NoError(repo.UpdatePresence(ctx, "R1", "A", true))

	// Then only A is flagged online
	room, err := repo.FindRoom(ctx, "R1")
	req.NoError(err)
	a, _ := room.Participant("A")
	b, _ := room.Participant("B")
	req.True(a.Online)
	req.False(b.Online)

	// Unknown participant or room
	req.ErrorIs(repo.UpdatePresence(ctx, "R1", "Z", true), errors.ErrParticipantNotFound)
	req.ErrorIs(repo.UpdatePresence(ctx, "R2", "A", true), errors.ErrRoomNotFound)
}

func Test_AddParticipant_Upsert(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewRoomRepository(openDB(t), slog.Default(), nil)
	seedRoom(t, repo, domain.Participant{Name: "A", FcmTokens: []string{"old"}, LastReadMessageID: "m-1"})

	// When A comes back with a new token and B is new
	req.NoError(repo.AddParticipant(ctx, "R1", domain.Participant{Name: "A", FcmTokens: []string{"old", "new"}, Online: true}))
	req.NoError(repo.AddParticipant(ctx, "R1", domain.Participant{Name: "B", Online: true}))

	room, err := repo.FindRoom(ctx, "R1")
	req.NoError(err)
	req.Len(room.Participants, 2)
	a, _ := room.Participant("A")
	req.Equal(domain.Participant{Name: "A", FcmTokens: []string{"old", "new"}, Online: true, LastReadMessageID: "m-1"}, a)
	b, ok := room.Participant("B")
	req.True(ok)
	req.True(b.Online)
}

func Test_AppendNotice(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewRoomRepository(openDB(t), slog.Default(), nil)
	seedRoom(t, repo)

	req.NoError(repo.AppendNotice(ctx, "R1", domain.Notice{Sender: "A", Text: "meeting at 5", Timestamp: time.Now().UTC()}))

	room, err := repo.FindRoom(ctx, "R1")
	req.NoError(err)
	req.Len(room.Notices, 1)
	req.NotEmpty(room.Notices[0].ID)
	req.Equal("meeting at 5", room.Notices[0].Text)
	req.ErrorIs(repo.AppendNotice(ctx, "R2", domain.Notice{Text: "x"}), errors.ErrRoomNotFound)
}

func Test_ListRooms(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewRoomRepository(openDB(t), slog.Default(), nil)

	rooms, err := repo.ListRooms(ctx)
	req.NoError(err)
	req.Empty(rooms)

	req.NoError(repo.SaveRoom(ctx, domain.Room{ID: "R1", Name: "general"}))
	req.NoError(repo.SaveRoom(ctx, domain.Room{ID: "R2", Name: "random", Messages: []domain.Message{
		{Sender: "A", Text: "seeded", Timestamp: time.Now().UTC()},
	}}))

	rooms, err = repo.ListRooms(ctx)
	req.NoError(err)
	req.Len(rooms, 2)
	req.Equal(domain.RoomID("R1"), rooms[0].ID)
	req.Equal("random", rooms[1].Name)
	req.Empty(rooms[1].Messages)

	// Seeded messages are part of the log
	room, err := repo.FindRoom(ctx, "R2")
	req.NoError(err)
	req.Len(room.Messages, 1)
}

func Test_CanceledContext(t *testing.T) {
	req := require.New(t)
	repo := NewRoomRepository(openDB(t), slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.FindRoom(ctx, "R1")
	req.ErrorIs(err, context.Canceled)
}

func Test_ConcurrentJoinMessageAndPresence(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repo := NewRoomRepository(openDB(t), slog.Default(), nil)
	seedRoom(t, repo, domain.Participant{Name: "A"})

	// Given members joining, posting and flipping presence on the same room at once
	const workers = 100
	var wg sync.WaitGroup
	errs := make(chan error, 3*workers)
	at := time.Now().UTC()
	for i := 0; i < workers; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			_, err := repo.AppendMessage(ctx, "R1", domain.Message{
				Sender: "A", Text: fmt.Sprintf("message %d", i), Timestamp: at.Add(time.Duration(i) * time.Millisecond),
			})
			errs <- err
		}(i)
		go func(i int) {
			defer wg.Done()
			errs <- repo.UpdatePresence(ctx, "R1", "A", i%2 == 0)
		}(i)
		go func(i int) {
			defer wg.Done()
			errs <- repo.AddParticipant(ctx, "R1", domain.Participant{Name: fmt.Sprintf("member-%d", i), Online: true})
		}(i)
	}
	wg.Wait()
	close(errs)

	// Then no call is lost to a transaction conflict
	for err := range errs {
		req.NoError(err)
	}
	room, err := repo.FindRoom(ctx, "R1")
	req.NoError(err)
	req.Len(room.Messages, workers)
	req.Len(room.Participants, workers+1)
}

func Test_ConflictsAcrossHandlesAreRetried(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := openDB(t)
	// Two repositories on one database do not share room locks, only retries keep them consistent
	first := NewRoomRepository(db, slog.Default(), nil)
	second := NewRoomRepository(db, slog.Default(), nil)
	seedRoom(t, first)

	const perHandle = 30
	var wg sync.WaitGroup
	errs := make(chan error, 2*perHandle)
	for i := 0; i < perHandle; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			errs <- first.AppendNotice(ctx, "R1", domain.Notice{Sender: "first", Text: fmt.Sprintf("n%d", i)})
		}(i)
		go func(i int) {
			defer wg.Done()
			errs <- second.AppendNotice(ctx, "R1", domain.Notice{Sender: "second", Text: fmt.Sprintf("n%d", i)})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		req.NoError(err)
	}
	room, err := first.FindRoom(ctx, "R1")
	req.NoError(err)
	req.Len(room.Notices, 2*perHandle)
}
