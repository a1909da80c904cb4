package workers

import (
	"chat-gateway/contract"
	"chat-gateway/domain"
	"chat-gateway/runtime"
	"context"
	"log/slog"
	"sync"
	"time"
)

var _ contract.Worker = (*HeartbeatMonitor)(nil)

type heartbeatRecord struct {
	conn     *runtime.Connection
	lastSeen time.Time
}

// HeartbeatMonitor evicts connections whose client stopped sending heartbeats.
// A connection is ALIVE while tracked; once its last heartbeat is older than the
// timeout it becomes TIMED_OUT for good: closed, unregistered and announced offline.
type HeartbeatMonitor struct {
	log          *slog.Logger
	registry     *runtime.Registry
	store        contract.RoomStore
	interval     time.Duration
	timeout      time.Duration
	storeTimeout time.Duration
	now          func() time.Time

	mu      sync.Mutex
	records map[string]heartbeatRecord
}

func NewHeartbeatMonitor(
	log *slog.Logger,
	registry *runtime.Registry,
	store contract.RoomStore,
	interval, timeout, storeTimeout time.Duration,
) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		log:          log,
		registry:     registry,
		store:        store,
		interval:     interval,
		timeout:      timeout,
		storeTimeout: storeTimeout,
		now:          time.Now,
		records:      make(map[string]heartbeatRecord),
	}
}

// WithClock replaces the time source, tests drive the monitor with it.
func (m *HeartbeatMonitor) WithClock(now func() time.Time) *HeartbeatMonitor {
	m.now = now
	return m
}

// Track starts monitoring a connection as if it had just sent a heartbeat.
func (m *HeartbeatMonitor) Track(conn *runtime.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[conn.ID()] = heartbeatRecord{conn: conn, lastSeen: m.now()}
}

// Touch records a heartbeat. Untracked (already evicted) connections are ignored.
func (m *HeartbeatMonitor) Touch(conn *runtime.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[conn.ID()]; ok {
		rec.lastSeen = m.now()
		m.records[conn.ID()] = rec
	}
}

func (m *HeartbeatMonitor) Forget(conn *runtime.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, conn.ID())
}

func (m *HeartbeatMonitor) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Run sweeps every interval until the context is canceled.
func (m *HeartbeatMonitor) Run(ctx context.Context) error {
	m.log.Info("Starting heartbeat monitor", "interval", m.interval, "timeout", m.timeout)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Debug("Stopping heartbeat monitor")
			return nil
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep evicts every stale connection and returns how many were evicted.
func (m *HeartbeatMonitor) Sweep(ctx context.Context) int {
	stale := m.collectStale()
	for _, conn := range stale {
		m.evict(ctx, conn)
	}
	return len(stale)
}

// collectStale removes the expired records under the lock so that a concurrent
// heartbeat cannot revive a connection that is about to be evicted.
func (m *HeartbeatMonitor) collectStale() []*runtime.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var stale []*runtime.Connection
	for id, rec := range m.records {
		if now.Sub(rec.lastSeen) > m.timeout {
			delete(m.records, id)
			stale = append(stale, rec.conn)
		}
	}
	return stale
}

func (m *HeartbeatMonitor) evict(ctx context.Context, conn *runtime.Connection) {
	conn.MarkTimedOut()
	m.registry.Remove(conn)
	if err := conn.Close(); err != nil {
		m.log.Debug("Closing timed out connection", "connID", conn.ID(), "error", err)
	}

	room, nickname := conn.RoomID(), conn.Nickname()
	m.log.Info("Connection timed out", "connID", conn.ID(), "room", room, "nickname", nickname)
	if !conn.Depart() {
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	if err := m.store.UpdatePresence(storeCtx, room, nickname, false); err != nil {
		m.log.Error("Unable to persist offline status", "room", room, "nickname", nickname, "error", err)
	}
	m.registry.Broadcast(room, domain.NewStatus(room, nickname, false))
}
