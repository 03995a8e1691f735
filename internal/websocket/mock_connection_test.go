package websocket

import (
	"errors"
	"sync"
	"time"
)

var errMockClosed = errors.New("connection closed")

// mockConnection is an in-memory Connection. Reads block until a frame
// is queued or the connection is closed.
type mockConnection struct {
	mu      sync.Mutex
	written []mockFrame
	closed  bool

	reads chan mockFrame
	done  chan struct{}

	pong      func(string) error
	readLimit int64
	writeErr  error
}

type mockFrame struct {
	Type int
	Data []byte
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		reads: make(chan mockFrame, 16),
		done:  make(chan struct{}),
	}
}

func (m *mockConnection) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errMockClosed
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, mockFrame{Type: messageType, Data: append([]byte(nil), data...)})
	return nil
}

func (m *mockConnection) ReadMessage() (int, []byte, error) {
	select {
	case f := <-m.reads:
		return f.Type, f.Data, nil
	case <-m.done:
		return 0, nil, errMockClosed
	}
}

func (m *mockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *mockConnection) SetReadDeadline(time.Time) error  { return nil }
func (m *mockConnection) SetWriteDeadline(time.Time) error { return nil }

func (m *mockConnection) SetReadLimit(limit int64) {
	m.mu.Lock()
	m.readLimit = limit
	m.mu.Unlock()
}

func (m *mockConnection) SetPongHandler(h func(string) error) {
	m.mu.Lock()
	m.pong = h
	m.mu.Unlock()
}

func (m *mockConnection) RemoteAddr() string { return "127.0.0.1:50000" }

func (m *mockConnection) frames() []mockFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockFrame(nil), m.written...)
}

func (m *mockConnection) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
