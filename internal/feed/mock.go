package feed

import (
	"context"
	"sync"
)

type mockResult struct {
	frame RawFrame
	err   error
}

// MockClient is a scripted Client for tests. Frames and errors queued with
// Push and PushError are returned by NextFrame in order; NextFrame blocks
// while the queue is empty.
type MockClient struct {
	mu          sync.Mutex
	connected   bool
	address     string
	opts        Options
	rate        float64
	connectErr  error
	connects    int
	disconnects int
	fetches     int

	queue chan mockResult
}

// NewMockClient returns a MockClient reporting the given frame rate.
func NewMockClient(rate float64) *MockClient {
	return &MockClient{rate: rate, queue: make(chan mockResult, 1024)}
}

// Push queues a frame.
func (m *MockClient) Push(f RawFrame) { m.queue <- mockResult{frame: f} }

// PushError queues a failed fetch.
func (m *MockClient) PushError(err error) { m.queue <- mockResult{err: err} }

// FailConnect makes the next Connect calls return err.
func (m *MockClient) FailConnect(err error) {
	m.mu.Lock()
	m.connectErr = err
	m.mu.Unlock()
}

func (m *MockClient) SetFrameRate(hz float64) {
	m.mu.Lock()
	m.rate = hz
	m.mu.Unlock()
}

func (m *MockClient) Connect(ctx context.Context, address string, opts Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	m.address = address
	m.opts = opts
	m.connects++
	return nil
}

func (m *MockClient) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		m.disconnects++
	}
	m.connected = false
	return nil
}

func (m *MockClient) NextFrame(ctx context.Context) (RawFrame, error) {
	m.mu.Lock()
	connected := m.connected
	m.fetches++
	m.mu.Unlock()
	if !connected {
		return nil, ErrNotConnected
	}
	select {
	case r := <-m.queue:
		return r.frame, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *MockClient) FrameRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

// Connected reports whether the client is between Connect and Disconnect.
func (m *MockClient) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Options returns the options passed to the last successful Connect.
func (m *MockClient) Options() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// Address returns the address passed to the last successful Connect.
func (m *MockClient) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

// Calls returns how many times Connect, Disconnect (while connected) and
// NextFrame have been called.
func (m *MockClient) Calls() (connects, disconnects, fetches int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects, m.disconnects, m.fetches
}
