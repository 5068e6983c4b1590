package fanout

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-momo/app/factory"
)

// Event is what subscribers of a payment reference receive for every
// accepted status transition.
type Event struct {
	Reference         string    `json:"reference"`
	Status            string    `json:"status"`
	AmountCents       int64     `json:"amount_cents"`
	Timestamp         time.Time `json:"timestamp"`
	ShouldStopPolling bool      `json:"should_stop_polling"`
}

const subscriberBuffer = 16

// Subscriber is one connected client. Events arrive on C in the order the
// reconciliation engine accepted them for each subscribed reference.
type Subscriber struct {
	ID string
	C  chan Event

	closed bool
}

// Hub is the in-process subscription table: reference -> subscriber set.
// It is transport-agnostic; the websocket layer is a thin adapter on top.
type Hub struct {
	mu sync.Mutex

	topics      map[string]map[*Subscriber]struct{}
	memberships map[*Subscriber]map[string]struct{}

	logger logrus.FieldLogger
}

func NewHub() *Hub {
	return &Hub{
		topics:      map[string]map[*Subscriber]struct{}{},
		memberships: map[*Subscriber]map[string]struct{}{},
		logger:      factory.NewModuleLogger("fanout"),
	}
}

func (h *Hub) Register() *Subscriber {
	sub := &Subscriber{
		ID: uuid.NewString(),
		C:  make(chan Event, subscriberBuffer),
	}

	h.mu.Lock()
	h.memberships[sub] = map[string]struct{}{}
	h.mu.Unlock()

	return sub
}

func (h *Hub) Subscribe(reference string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return
	}
	if _, ok := h.memberships[sub]; !ok {
		return
	}

	topic, ok := h.topics[reference]
	if !ok {
		topic = map[*Subscriber]struct{}{}
		h.topics[reference] = topic
	}
	topic[sub] = struct{}{}
	h.memberships[sub][reference] = struct{}{}
}

func (h *Hub) Unsubscribe(reference string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromTopic(reference, sub)
	if refs, ok := h.memberships[sub]; ok {
		delete(refs, reference)
	}
}

// Drop removes the subscriber from every topic and closes its channel.
// Called on disconnect; the caller does not need to enumerate subscriptions.
func (h *Hub) Drop(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropLocked(sub)
}

// Publish delivers the event to every current subscriber of the reference.
// Zero subscribers is a no-op. The hub lock is held across the enqueue so
// per-reference delivery order matches publish order; a subscriber that
// cannot keep up is dropped instead of blocking the publisher.
func (h *Hub) Publish(reference string, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	topic, ok := h.topics[reference]
	if !ok || len(topic) == 0 {
		return
	}

	var stalled []*Subscriber
	for sub := range topic {
		select {
		case sub.C <- event:
		default:
			stalled = append(stalled, sub)
		}
	}

	for _, sub := range stalled {
		h.logger.WithField("subscriber", sub.ID).WithField("reference", reference).
			Warn("Dropping slow subscriber")
		h.dropLocked(sub)
	}
}

func (h *Hub) HasSubscribers(reference string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.topics[reference]) > 0
}

func (h *Hub) dropLocked(sub *Subscriber) {
	refs, ok := h.memberships[sub]
	if ok {
		for reference := range refs {
			h.removeFromTopic(reference, sub)
		}
		delete(h.memberships, sub)
	}

	if !sub.closed {
		sub.closed = true
		close(sub.C)
	}
}

func (h *Hub) removeFromTopic(reference string, sub *Subscriber) {
	topic, ok := h.topics[reference]
	if !ok {
		return
	}
	delete(topic, sub)
	if len(topic) == 0 {
		delete(h.topics, reference)
	}
}
