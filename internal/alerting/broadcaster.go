// Package alerting fans incident transitions out to in-process
// subscribers (SSE handlers, CLI watchers). Delivery is best-effort:
// a slow subscriber loses events rather than stalling the pipeline.
package alerting

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mr1hm/go-unrest-alerts/internal/models"
)

type EventKind string

const (
	// EventIncidentCreated fires when clustering opens a new incident.
	EventIncidentCreated EventKind = "incident_created"
	// EventIncidentVerified fires on the unverified-to-verified transition.
	EventIncidentVerified EventKind = "incident_verified"
	// EventSeverityRaised fires when an incident's severity increases.
	EventSeverityRaised EventKind = "severity_raised"
	// EventIncidentMerged fires when moderation folds one incident into another.
	EventIncidentMerged EventKind = "incident_merged"
)

type Event struct {
	Kind     EventKind
	Incident models.Incident
}

// Filter narrows a subscription. The zero value matches every event.
type Filter struct {
	MinSeverity models.Severity // empty means any severity
	Region      string          // substring of the incident place name, empty means anywhere
}

func (f Filter) matches(ev Event) bool {
	if f.MinSeverity != "" && ev.Incident.Severity.Rank() < f.MinSeverity.Rank() {
		return false
	}
	if f.Region != "" {
		if ev.Incident.Location == nil {
			return false
		}
		place := strings.ToLower(ev.Incident.Location.PlaceName)
		if !strings.Contains(place, strings.ToLower(f.Region)) {
			return false
		}
	}
	return true
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

type Broadcaster struct {
	subscribers map[uint64]subscriber
	nextID      atomic.Uint64
	mu          sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]subscriber),
	}
}

func (b *Broadcaster) Subscribe(f Filter) (uint64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, 64) // Buffer for a burst of transitions per cycle

	b.mu.Lock()
	b.subscribers[id] = subscriber{ch: ch, filter: f}
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Broadcast(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.filter.matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Skip slow subscribers
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, causing listeners to exit gracefully
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
