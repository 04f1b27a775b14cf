package connection

import (
	"context"
	"errors"
	"sync"

	"pebblerun-bridge/internal/transport"
)

// fakeTransport deterministic in-memory transport for unit tests
type fakeTransport struct {
	mu sync.Mutex

	open    bool
	handler transport.MessageHandler

	failOpens int  // fail this many Open calls before succeeding
	failSends bool // force Send failures
	dead      bool // force Alive() == false

	openCalls int
	sent      [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Open(ctx context.Context, handler transport.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.openCalls++
	if f.failOpens > 0 {
		f.failOpens--
		return errors.New("bridge unreachable")
	}
	f.open = true
	f.dead = false
	f.handler = handler
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open {
		return transport.ErrClosed
	}
	if f.failSends {
		return transport.ErrSendFailed
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeTransport) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open && !f.dead
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.handler = nil
	return nil
}

// deliver simulates an inbound payload from the watch.
func (f *fakeTransport) deliver(payload []byte) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(payload)
	}
}

// kill simulates link loss without a clean close.
func (f *fakeTransport) kill() {
	f.mu.Lock()
	f.dead = true
	f.mu.Unlock()
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
