package infrastructure

import (
	"sync"
	"time"
)

// EventDeduplicator remembers webhook event ids for a while so that
// redelivered events are processed once.
type EventDeduplicator struct {
	mu          sync.Mutex
	seen        map[string]time.Time
	ttl         time.Duration
	cleanupTick time.Duration
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewEventDeduplicator starts a deduplicator whose entries expire after ttl.
// Call Close to stop its cleanup goroutine.
func NewEventDeduplicator(ttl time.Duration) *EventDeduplicator {
	d := &EventDeduplicator{
		seen:        make(map[string]time.Time),
		ttl:         ttl,
		cleanupTick: ttl,
		now:         time.Now,
		stop:        make(chan struct{}),
	}
	if d.cleanupTick > 5*time.Minute {
		d.cleanupTick = 5 * time.Minute
	}

	go d.cleanup()

	return d
}

// Seen reports whether eventID was already recorded within the ttl, and
// records it if not. Empty ids are never treated as duplicates.
func (d *EventDeduplicator) Seen(eventID string) bool {
	if eventID == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, exists := d.seen[eventID]; exists && now.Sub(at) < d.ttl {
		return true
	}
	d.seen[eventID] = now
	return false
}

func (d *EventDeduplicator) Close() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// cleanup removes expired ids periodically
func (d *EventDeduplicator) cleanup() {
	ticker := time.NewTicker(d.cleanupTick)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.evictExpired()
		}
	}
}

func (d *EventDeduplicator) evictExpired() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, id)
		}
	}
}
