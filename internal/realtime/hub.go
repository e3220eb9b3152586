package realtime

import (
	"sync"

	"AuctionCore/internal/models"
)

type EventType string

const (
	EventTick  EventType = "auction:tick"
	EventEnded EventType = "auction:ended"
	EventPrice EventType = "auction:price"
)

// Event is the payload pushed to auction subscribers.
type Event struct {
	Type              EventType        `json:"type"`
	AuctionID         string           `json:"auctionId"`
	MsRemaining       int64            `json:"msRemaining"`
	Reason            models.EndReason `json:"reason,omitempty"`
	CurrentPriceCents int64            `json:"currentPriceCents,omitempty"`
	LeadingBidderID   string           `json:"leadingBidderId,omitempty"`
}

// Publisher delivers events to whoever is listening. Delivery is best effort.
type Publisher interface {
	Publish(ev Event)
}

const defaultSubscriberBuffer = 64

// Hub fans events out to in-process subscribers keyed by auction id.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan Event
	nextID int
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{subs: make(map[string]map[int]chan Event), buffer: buffer}
}

// Subscribe returns a channel of events for auctionID and a cancel func.
// The channel is closed on cancel, on eviction, or after the ended event.
func (h *Hub) Subscribe(auctionID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.buffer)
	if h.subs[auctionID] == nil {
		h.subs[auctionID] = make(map[int]chan Event)
	}
	h.subs[auctionID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.drop(auctionID, id)
	}
	return ch, cancel
}

// Publish drops ticks and price updates for slow subscribers; an ended event
// is never dropped silently, a subscriber that cannot take it is evicted.
// All subscribers of an auction are released once it has ended.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs[ev.AuctionID] {
		select {
		case ch <- ev:
		default:
			if ev.Type == EventEnded {
				h.drop(ev.AuctionID, id)
			}
		}
	}
	if ev.Type == EventEnded {
		for id := range h.subs[ev.AuctionID] {
			h.drop(ev.AuctionID, id)
		}
	}
}

// Subscribers returns the number of live subscriptions for auctionID.
func (h *Hub) Subscribers(auctionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[auctionID])
}

// drop must be called with h.mu held.
func (h *Hub) drop(auctionID string, id int) {
	subs := h.subs[auctionID]
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	close(ch)
	if len(subs) == 0 {
		delete(h.subs, auctionID)
	}
}
