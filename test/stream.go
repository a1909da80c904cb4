// Package test holds fakes shared by package tests and the end-to-end scenarios.
package test

import (
	"bufio"
	"bytes"
	"chat-gateway/protocol"
	"encoding/json"
	"io"
	"sync"
)

// Stream is an in-memory socket that records every frame written to it.
type Stream struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	closed   bool
	WriteErr error
}

func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return 0, s.WriteErr
	}
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	return s.buf.Write(p)
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Payloads decodes every server frame written so far into generic JSON objects.
func (s *Stream) Payloads() []map[string]any {
	s.mu.Lock()
	data := append([]byte(nil), s.buf.Bytes()...)
	s.mu.Unlock()

	var out []map[string]any
	r := bufio.NewReader(bytes.NewReader(data))
	for {
		raw, err := protocol.ReadFrame(r, 0)
		if err != nil {
			return out
		}
		text, err := protocol.DecodeServerFrame(raw)
		if err != nil {
			return out
		}
		var m map[string]any
		if err := json.Unmarshal(text, &m); err == nil {
			out = append(out, m)
		}
	}
}

// OfType keeps the payloads whose "type" field matches.
func (s *Stream) OfType(kind string) []map[string]any {
	var out []map[string]any
	for _, p := range s.Payloads() {
		if p["type"] == kind {
			out = append(out, p)
		}
	}
	return out
}
