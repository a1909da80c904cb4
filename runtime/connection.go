package runtime

import (
	"chat-gateway/domain"
	"chat-gateway/errors"
	"chat-gateway/protocol"
	"io"
	"sync"
	"time"
)

// deadlineWriter is satisfied by net.Conn.
type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// Connection is one upgraded socket. The stream is borrowed from the network layer,
// the registry owns the connection lifecycle.
type Connection struct {
	id           string
	stream       io.WriteCloser
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu       sync.RWMutex
	roomID   domain.RoomID
	nickname string
	timedOut bool
	departed bool

	closeOnce sync.Once
	closeErr  error
}

func NewConnection(id string, stream io.WriteCloser, writeTimeout time.Duration) *Connection {
	return &Connection{id: id, stream: stream, writeTimeout: writeTimeout}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) RoomID() domain.RoomID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Connection) Nickname() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nickname
}

// Join binds the connection to a room. The room is set once for the lifetime of the
// connection; joining the same room again is accepted (and re-arms Depart), another room is refused.
func (c *Connection) Join(roomID domain.RoomID, nickname string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timedOut {
		return errors.ErrConnectionTimedOut
	}
	if c.roomID != "" && c.roomID != roomID {
		return errors.ErrAlreadyJoined
	}
	if c.roomID == "" {
		c.roomID = roomID
		c.nickname = nickname
	}
	c.departed = false
	return nil
}

// Member reports whether the connection may act on the given room: either it has not
// joined yet or it joined that very room.
func (c *Connection) Member(roomID domain.RoomID) bool {
	current := c.RoomID()
	return current == "" || current == roomID
}

func (c *Connection) MarkTimedOut() {
	c.mu.Lock()
	c.timedOut = true
	c.mu.Unlock()
}

func (c *Connection) TimedOut() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timedOut
}

// Depart latches the offline transition of the joined participant.
// It returns true only for the first caller, and only if the connection joined a room.
func (c *Connection) Depart() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID == "" || c.departed {
		return false
	}
	c.departed = true
	return true
}

// Rearm reopens the Depart latch after an offline transition that could not be recorded.
func (c *Connection) Rearm() {
	c.mu.Lock()
	c.departed = false
	c.mu.Unlock()
}

// Send frames text and writes it to the socket. Concurrent senders are serialized.
func (c *Connection) Send(text []byte) error {
	frame := protocol.EncodeFrame(text)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if dw, ok := c.stream.(deadlineWriter); ok && c.writeTimeout > 0 {
		_ = dw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.stream.Write(frame)
	return err
}

// Close closes the underlying stream once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.stream.Close()
	})
	return c.closeErr
}
