package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notification is an armed trigger recorded by MemoryDispatcher
type Notification struct {
	Handle  Handle
	At      time.Time
	Payload Payload
}

// MemoryDispatcher records scheduled notifications in memory.
// It backs tests and deployments without a notification transport.
type MemoryDispatcher struct {
	mu        sync.Mutex
	active    map[Handle]Notification
	cancelled []Handle

	// FailWith, when set, is returned by Schedule to simulate transport failures
	FailWith error
}

// NewMemoryDispatcher creates an empty recorder
func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{
		active: make(map[Handle]Notification),
	}
}

// Schedule records a notification and returns its handle
func (d *MemoryDispatcher) Schedule(ctx context.Context, at time.Time, payload Payload) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.FailWith != nil {
		return "", d.FailWith
	}

	handle := Handle(uuid.New().String())
	d.active[handle] = Notification{Handle: handle, At: at, Payload: payload}
	return handle, nil
}

// Cancel removes the notification; unknown handles are ignored
func (d *MemoryDispatcher) Cancel(ctx context.Context, handle Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.active[handle]; ok {
		delete(d.active, handle)
		d.cancelled = append(d.cancelled, handle)
	}
	return nil
}

// Active returns armed notifications ordered by trigger time
func (d *MemoryDispatcher) Active() []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Notification, 0, len(d.active))
	for _, n := range d.active {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].Handle < out[j].Handle
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

// ActiveFor returns armed notifications for one dose
func (d *MemoryDispatcher) ActiveFor(doseID string) []Notification {
	var out []Notification
	for _, n := range d.Active() {
		if n.Payload.DoseID == doseID {
			out = append(out, n)
		}
	}
	return out
}

// Cancelled returns every handle cancelled so far, in order
func (d *MemoryDispatcher) Cancelled() []Handle {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]Handle(nil), d.cancelled...)
}
