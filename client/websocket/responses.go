package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/cryptowatch/clock"
	"github.com/juju/errors"
)

// responseSlot receives the response to one request. resp is closed if the
// connection drops first.
type responseSlot struct {
	resp    chan []byte
	dropped bool
}

// responseTable routes responses to the requests waiting for them, by
// request id.
type responseTable struct {
	clock clock.Clock

	mtx   sync.Mutex
	slots map[string]*responseSlot
}

func newResponseTable(clk clock.Clock) *responseTable {
	return &responseTable{
		clock: clk,
		slots: make(map[string]*responseSlot),
	}
}

// open registers a slot for id. It must happen before the request is sent,
// or a quick response could be dropped.
func (t *responseTable) open(id string) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if _, exists := t.slots[id]; exists {
		return errors.AlreadyExistsf("request %q", id)
	}

	t.slots[id] = &responseSlot{
		resp: make(chan []byte, 1),
	}

	return nil
}

func (t *responseTable) release(id string) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	delete(t.slots, id)
}

// await waits for the response to id and releases the slot.
func (t *responseTable) await(ctx context.Context, id string, timeout time.Duration) ([]byte, error) {
	t.mtx.Lock()
	slot, ok := t.slots[id]
	t.mtx.Unlock()

	if !ok {
		return nil, errors.Annotatef(ErrUnknownRequest, "%q", id)
	}
	defer t.release(id)

	timedOut := make(chan struct{})
	timer := t.clock.AfterFunc(timeout, func() {
		close(timedOut)
	})
	defer timer.Stop()

	select {
	case data, ok := <-slot.resp:
		if !ok {
			return nil, errors.Trace(ErrNotConnected)
		}
		return data, nil

	case <-timedOut:
		return nil, errors.Annotatef(ErrRequestTimeout, "%s", timeout)

	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	}
}

// deliver hands the response over to the request waiting for it. Responses
// nobody waits for (e.g. after a timeout) are dropped.
func (t *responseTable) deliver(id string, data []byte) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	slot, ok := t.slots[id]
	if !ok || slot.dropped {
		logger.Debugf("dropping response to unknown request %s", id)
		return
	}

	select {
	case slot.resp <- data:
	default:
		logger.Warningf("dropping duplicate response to request %s", id)
	}
}

// failAll makes every request waiting for a response fail with
// ErrNotConnected.
func (t *responseTable) failAll() {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	for _, slot := range t.slots {
		if !slot.dropped {
			slot.dropped = true
			close(slot.resp)
		}
	}
}
