package e2e

import (
	"chat-gateway/client"
	"chat-gateway/domain"
	"chat-gateway/infrastructure/gateway"
	"chat-gateway/infrastructure/storage"
	"chat-gateway/runtime"
	"chat-gateway/runtime/workers"
	"chat-gateway/services"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

const (
	pushTopic         = "chat.push"
	heartbeatInterval = 50 * time.Millisecond
	heartbeatTimeout  = 400 * time.Millisecond
)

// recordingPublisher stands in for the notification queue of the in-process stack.
type recordingPublisher struct {
	mu     sync.Mutex
	pushes []domain.PushRequest
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	if topic != pushTopic {
		return fmt.Errorf("unexpected topic %q", topic)
	}
	var push domain.PushRequest
	if err := json.Unmarshal(payload, &push); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, push)
	return nil
}

func (p *recordingPublisher) Pushes() []domain.PushRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.PushRequest(nil), p.pushes...)
}

// stack is the gateway wired with real storage, handler and heartbeat monitor.
type stack struct {
	dir       string
	db        *badger.DB
	rooms     *storage.RoomRepository
	publisher *recordingPublisher
	gateway   *gateway.Server
	http      *httptest.Server
	sup       *workers.Supervisor
	cancel    context.CancelFunc
	done      chan struct{}
}

func startStack() (*stack, error) {
	dir, err := os.MkdirTemp("", "gateway-e2e-*")
	if err != nil {
		return nil, err
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, err
	}

	log := logs.GetLoggerFromLevel(slog.LevelWarn)
	rooms := storage.NewRoomRepository(db, log, lo.ToPtr(100))
	publisher := &recordingPublisher{}
	registry := runtime.NewRegistry(log)
	monitor := workers.NewHeartbeatMonitor(log, registry, rooms, heartbeatInterval, heartbeatTimeout, time.Second)
	handler := services.NewRoomEventHandler(log, rooms, publisher, registry, monitor, services.HandlerConfig{
		PushTopic:      pushTopic,
		StoreTimeout:   time.Second,
		PublishTimeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sup := workers.NewSupervisor(log, 100*time.Millisecond)
	sup.Add(monitor)
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	gw := gateway.NewServer(context.Background(), log, registry, monitor, handler, gateway.Options{
		MaxFrameSize: 1 << 20,
		WriteTimeout: time.Second,
	})
	return &stack{
		dir: dir, db: db, rooms: rooms, publisher: publisher,
		gateway: gw, http: httptest.NewServer(gw),
		sup: sup, cancel: cancel, done: done,
	}, nil
}

func (st *stack) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = st.gateway.Shutdown(ctx)
	st.http.Close()
	st.cancel()
	st.sup.Stop()
	<-st.done
	_ = st.db.Close()
	_ = os.RemoveAll(st.dir)
}

type BaseSocketSuite struct {
	suite.Suite
	Config Config
	addr   string
	stack  *stack
}

// SetupSuite loads the environment configuration and boots the local stack when no gateway is given
func (s *BaseSocketSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)

	if s.Config.GatewayAddr != "" {
		s.addr = s.Config.GatewayAddr
		return
	}
	s.stack, err = startStack()
	s.Require().NoError(err)
	s.addr = strings.TrimPrefix(s.stack.http.URL, "http://")

	err = services.NewChatService(s.stack.rooms).
		CreateRoom(context.Background(), domain.RoomID(s.Config.RoomID), "end to end")
	s.Require().NoError(err)
}

func (s *BaseSocketSuite) TearDownSuite() {
	if s.stack != nil {
		s.stack.stop()
	}
}

// InProcess reports whether the scenario can look inside the gateway (store, queue).
func (s *BaseSocketSuite) InProcess() bool {
	return s.stack != nil
}

func (s *BaseSocketSuite) Room() domain.RoomID {
	return domain.RoomID(s.Config.RoomID)
}

// Connect opens a socket to the gateway. With heartbeats, a background loop keeps
// the connection alive until the suite test ends.
func (s *BaseSocketSuite) Connect(name string, heartbeats bool) *client.Client {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)

	ctx, cancel := context.WithTimeout(context.Background(), s.Config.Timeout)
	defer cancel()
	c, err := client.Dial(ctx, s.addr, "/ws")
	s.Require().NoError(err, "Failed to open socket at "+s.addr)

	stop := make(chan struct{})
	s.T().Cleanup(func() {
		close(stop)
		_ = c.Close()
	})
	if heartbeats {
		go func() {
			ticker := time.NewTicker(heartbeatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					if err := c.Heartbeat(); err != nil {
						return
					}
				}
			}
		}()
	}
	return c
}

// Await reads frames until one matches or the timeout elapses.
func (s *BaseSocketSuite) Await(c *client.Client, desc string, match func(map[string]any) bool) map[string]any {
	deadline := time.Now().Add(s.Config.Timeout)
	for time.Now().Before(deadline) {
		frame, err := c.NextJSON(time.Until(deadline))
		s.Require().NoError(err, "waiting for %s", desc)
		s.debug(frame)
		if match(frame) {
			return frame
		}
	}
	s.FailNow("frame never received", desc)
	return nil
}

// Drain collects every frame received during d.
func (s *BaseSocketSuite) Drain(c *client.Client, d time.Duration) []map[string]any {
	var frames []map[string]any
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		frame, err := c.NextJSON(time.Until(deadline))
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return frames
		}
		s.Require().NoError(err)
		s.debug(frame)
		frames = append(frames, frame)
	}
	return frames
}

func (s *BaseSocketSuite) debug(frame map[string]any) {
	if !s.Config.DebugJSON {
		return
	}
	data, _ := json.MarshalIndent(frame, "", "  ")
	s.T().Log("FRAME:\n" + string(data))
}

func isType(kind string) func(map[string]any) bool {
	return func(m map[string]any) bool { return m["type"] == kind }
}

func isStatus(nickname string, online bool) func(map[string]any) bool {
	return func(m map[string]any) bool {
		return m["type"] == "status" && m["nickname"] == nickname && m["isOnline"] == online
	}
}

func isMessageFrom(sender, text string) func(map[string]any) bool {
	return func(m map[string]any) bool {
		return m["type"] == "message" && m["sender"] == sender && m["message"] == text
	}
}
