package test

import (
	"chat-gateway/domain"
	"chat-gateway/infrastructure/storage"
	"chat-gateway/mocks"
	"chat-gateway/runtime"
	"chat-gateway/runtime/workers"
	"chat-gateway/services"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// clock is advanced by hand so that heartbeat expiry is deterministic.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func payload(kind, room, nickname string, extra ...string) []byte {
	p := map[string]string{"type": kind, "chatRoomId": room, "nickname": nickname}
	for i := 0; i+1 < len(extra); i += 2 {
		p[extra[i]] = extra[i+1]
	}
	data, _ := json.Marshal(p)
	return data
}

func offlineStatuses(s *Stream, nickname string) int {
	return len(lo.Filter(s.OfType("status"), func(m map[string]any, _ int) bool {
		return m["nickname"] == nickname && m["isOnline"] == false
	}))
}

func Test_Scenario(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	// Reduced to 16 Mo for testing
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	req.NoError(err)
	defer db.Close()

	// 1. Wire the real store, registry, monitor and handler around a fake queue
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	clk := &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	rooms := storage.NewRoomRepository(db, log, lo.ToPtr(100))
	registry := runtime.NewRegistry(log)
	monitor := workers.NewHeartbeatMonitor(log, registry, rooms, 5*time.Second, 10*time.Second, time.Second).
		WithClock(clk.Now)

	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)
	var push domain.PushRequest
	publisher.EXPECT().
		Publish(gomock.Any(), "chat.push", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, data []byte) error {
			return json.Unmarshal(data, &push)
		}).
		Times(1)

	handler := services.NewRoomEventHandler(log, rooms, publisher, registry, monitor, services.HandlerConfig{
		PushTopic:      "chat.push",
		StoreTimeout:   time.Second,
		PublishTimeout: time.Second,
	}).WithClock(clk.Now)

	req.NoError(services.NewChatService(rooms).CreateRoom(ctx, "R1", "general"))

	connect := func() (*runtime.Connection, *Stream) {
		stream := &Stream{}
		conn := runtime.NewConnection(uuid.NewString(), stream, 0)
		registry.Add(conn)
		monitor.Track(conn)
		return conn, stream
	}

	// 2. A and B join, B registers a push token
	connA, streamA := connect()
	connB, streamB := connect()
	req.NoError(handler.Handle(ctx, connA, payload("join", "R1", "A")))
	req.NoError(handler.Handle(ctx, connB, payload("join", "R1", "B", "fcmToken", "tok-b")))
	req.Len(streamB.OfType("previousMessages"), 1)

	// 3. Only A keeps beating, B goes silent past the timeout
	clk.Advance(6 * time.Second)
	req.NoError(handler.Handle(ctx, connA, []byte(`{"type":"heartbeat"}`)))
	clk.Advance(5 * time.Second)
	req.Equal(1, monitor.Sweep(ctx))

	req.True(streamB.Closed())
	req.False(streamA.Closed())
	req.Equal(1, registry.Len())
	req.Equal(1, offlineStatuses(streamA, "B"))

	// 4. Later sweeps and the socket release do not repeat the transition
	req.Zero(monitor.Sweep(ctx))
	handler.Disconnect(ctx, connB)
	req.Equal(1, offlineStatuses(streamA, "B"))

	// 5. A message now reaches A over the socket and B through the queue
	req.NoError(handler.Handle(ctx, connA, payload("message", "R1", "A", "text", "hello")))
	messages := lo.Filter(streamA.OfType("message"), func(m map[string]any, _ int) bool { return m["sender"] == "A" })
	req.Len(messages, 1)
	req.Equal("hello", messages[0]["message"])
	req.NotEmpty(messages[0]["id"])

	req.Equal(domain.RoomID("R1"), push.ChatRoomID)
	req.Equal("A", push.Sender)
	req.Equal([]domain.PushRecipient{{Nickname: "B", FcmTokens: []string{"tok-b"}}}, push.OfflineParticipants)

	// 6. The store agrees
	room, err := rooms.FindRoom(ctx, "R1")
	req.NoError(err)
	b, ok := room.Participant("B")
	req.True(ok)
	req.False(b.Online)
	a, ok := room.Participant("A")
	req.True(ok)
	req.True(a.Online)
	req.Equal("hello", room.Messages[len(room.Messages)-1].Text)
}
