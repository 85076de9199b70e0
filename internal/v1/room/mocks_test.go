package room

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"
)

// mockConn is an in-memory wsConnection. Reads are scripted through readCh;
// writes and close frames are recorded for assertions.
type mockConn struct {
	mu          sync.Mutex
	written     [][]byte
	closeCode   int
	closeReason string
	gotClose    bool
	closed      bool
	readCh      chan []byte
}

func newMockConn() *mockConn {
	return &mockConn{readCh: make(chan []byte, 16)}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	data, ok := <-m.readCh
	if !ok {
		return 0, nil, errors.New("mock connection closed")
	}
	return 1, data, nil // websocket.TextMessage
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("write on closed mock connection")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.written = append(m.written, cp)
	return nil
}

func (m *mockConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Close payload: 2-byte big-endian code followed by the reason text.
	if len(data) >= 2 {
		m.closeCode = int(binary.BigEndian.Uint16(data[:2]))
		m.closeReason = string(data[2:])
	}
	m.gotClose = true
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) SetWriteDeadline(t time.Time) error {
	return nil
}

func (m *mockConn) closeFrame() (int, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCode, m.closeReason, m.gotClose
}

// mockSink records stats events.
type mockSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

type sinkEvent struct {
	gameID   string
	playerID string
	event    string
}

func (m *mockSink) Track(ctx context.Context, gameID, playerID, event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, sinkEvent{gameID: gameID, playerID: playerID, event: event})
	return nil
}

func (m *mockSink) count(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.event == event {
			n++
		}
	}
	return n
}
