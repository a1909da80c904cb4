// Package client is a minimal socket client speaking the gateway protocol.
// It backs the wsclient smoke binary and the end-to-end scenarios.
package client

import (
	"bufio"
	"chat-gateway/domain"
	"chat-gateway/protocol"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// Dial opens a TCP connection to addr and performs the opening handshake.
// The accept token returned by the server is checked against the generated key.
func Dial(ctx context.Context, addr, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		_ = conn.Close()
		return nil, err
	}
	key := base64.StdEncoding.EncodeToString(nonce)

	_, err = fmt.Fprintf(conn, "GET %s HTTP/1.1\r\nHost: %s\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n"+
		"Sec-WebSocket-Key: %s\r\nSec-WebSocket-Version: 13\r\n\r\n", path, addr, key)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake refused: %s", resp.Status)
	}
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != protocol.ComputeAcceptToken(key) {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected accept token %q", got)
	}
	return &Client{conn: conn, reader: reader}, nil
}

// Send writes a masked text frame carrying the JSON payload.
func (c *Client) Send(payload domain.ClientPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var mask [4]byte
	if _, err := rand.Read(mask[:]); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.conn.Write(protocol.EncodeClientFrame(data, mask))
	return err
}

func (c *Client) Join(room domain.RoomID, nickname, token string) error {
	return c.Send(domain.ClientPayload{Type: domain.EventJoin, ChatRoomID: room, Nickname: nickname, FcmToken: token})
}

func (c *Client) Message(room domain.RoomID, nickname, text string) error {
	return c.Send(domain.ClientPayload{Type: domain.EventMessage, ChatRoomID: room, Nickname: nickname, Text: text})
}

func (c *Client) Leave(room domain.RoomID, nickname string) error {
	return c.Send(domain.ClientPayload{Type: domain.EventLeave, ChatRoomID: room, Nickname: nickname})
}

func (c *Client) Heartbeat() error {
	return c.Send(domain.ClientPayload{Type: domain.EventHeartbeat})
}

// Next blocks until the next server text frame.
func (c *Client) Next() ([]byte, error) {
	raw, err := protocol.ReadFrame(c.reader, 0)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeServerFrame(raw)
}

// NextJSON reads the next frame within timeout and decodes it as a JSON object.
func (c *Client) NextJSON(timeout time.Duration) (map[string]any, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	frame, err := c.Next()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(frame, &m); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return m, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
