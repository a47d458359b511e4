// Package memory is an in-process transport used by tests and local
// loopback wiring. Behavior (failures, delays, caps) is scriptable.
package memory

import (
	"context"
	"sync"

	"github.com/openchw/meshdoc/internal/transport"
	"github.com/openchw/meshdoc/pkg/model"
)

// Transport records everything sent through it.
type Transport struct {
	kind      transport.Kind
	cap       int
	reachable bool

	mu       sync.Mutex
	sent     [][]model.Document
	fail     error
	block    chan struct{}
	inFlight int
}

// New builds a reachable in-memory transport of the given kind.
func New(kind transport.Kind, cap int) *Transport {
	return &Transport{kind: kind, cap: cap, reachable: true}
}

func (t *Transport) Kind() transport.Kind { return t.kind }
func (t *Transport) Cap() int             { return t.cap }

func (t *Transport) Reachable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reachable
}

// SetReachable flips the simulated connectivity state.
func (t *Transport) SetReachable(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reachable = ok
}

// FailWith makes subsequent sends return err (nil restores success).
func (t *Transport) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = err
}

// BlockUntil makes Send wait on ch (or ctx) before completing, to
// simulate a slow or hung channel.
func (t *Transport) BlockUntil(ch chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.block = ch
}

// Send records the batch and returns the scripted outcome.
func (t *Transport) Send(ctx context.Context, docs []model.Document) (transport.Result, error) {
	t.mu.Lock()
	block := t.block
	fail := t.fail
	reachable := t.reachable
	t.inFlight++
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.inFlight--
		t.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return transport.Result{}, ctx.Err()
		}
	}
	if !reachable {
		return transport.Result{}, model.ErrUnreachable
	}
	if fail != nil {
		return transport.Result{}, fail
	}

	t.mu.Lock()
	batch := make([]model.Document, len(docs))
	copy(batch, docs)
	t.sent = append(t.sent, batch)
	t.mu.Unlock()
	return transport.Result{Delivered: len(docs)}, nil
}

// InFlight reports how many sends are currently executing.
func (t *Transport) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}

// Sent returns the recorded batches.
func (t *Transport) Sent() [][]model.Document {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]model.Document, len(t.sent))
	copy(out, t.sent)
	return out
}

// SentCount returns the total number of documents delivered.
func (t *Transport) SentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, batch := range t.sent {
		n += len(batch)
	}
	return n
}
