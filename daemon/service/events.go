package service

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents different event classifications
type EventType int

const (
	EventReceived EventType = iota + 1
	EventRejected
	EventCommitted
	EventSubmissionFailed
	EventProgress
	EventCompleted
	EventAborted
)

func (e EventType) String() string {
	switch e {
	case EventReceived:
		return "RECEIVED"
	case EventRejected:
		return "REJECTED"
	case EventCommitted:
		return "COMMITTED"
	case EventSubmissionFailed:
		return "SUBMISSION_FAILED"
	case EventProgress:
		return "PROGRESS"
	case EventCompleted:
		return "COMPLETED"
	case EventAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the event type by name.
func (e EventType) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// RequestEvent represents a request lifecycle event
type RequestEvent struct {
	RequestID string            `json:"request_id"`
	EventType EventType         `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EventSubscription represents an active event subscription
type EventSubscription struct {
	ID              string
	RequestIDFilter string
	Channel         chan *RequestEvent
}

// EventPublisher manages event subscriptions and broadcasting
type EventPublisher struct {
	subscriptions map[string]*EventSubscription
	mu            sync.RWMutex
	bufferSize    int
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(bufferSize int) *EventPublisher {
	return &EventPublisher{
		subscriptions: make(map[string]*EventSubscription),
		bufferSize:    bufferSize,
	}
}

// Subscribe creates a new event subscription. An empty filter receives every request's events.
func (p *EventPublisher) Subscribe(requestIDFilter string) *EventSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &EventSubscription{
		ID:              uuid.NewString(),
		RequestIDFilter: requestIDFilter,
		Channel:         make(chan *RequestEvent, p.bufferSize),
	}

	p.subscriptions[sub.ID] = sub
	return sub
}

// Unsubscribe removes an event subscription
func (p *EventPublisher) Unsubscribe(subscriptionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sub, exists := p.subscriptions[subscriptionID]; exists {
		close(sub.Channel)
		delete(p.subscriptions, subscriptionID)
	}
}

// Publish broadcasts an event to all matching subscribers. A nil publisher drops events.
func (p *EventPublisher) Publish(event *RequestEvent) {
	if p == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, sub := range p.subscriptions {
		if sub.RequestIDFilter != "" && sub.RequestIDFilter != event.RequestID {
			continue
		}

		// Slow consumers miss events rather than block serving
		select {
		case sub.Channel <- event:
		default:
		}
	}
}

func (p *EventPublisher) publish(requestID string, t EventType, msg string, meta map[string]string) {
	p.Publish(&RequestEvent{
		RequestID: requestID,
		EventType: t,
		Timestamp: time.Now(),
		Message:   msg,
		Metadata:  meta,
	})
}

// PublishReceived publishes a request received event
func (p *EventPublisher) PublishReceived(requestID, kind, peer string) {
	p.publish(requestID, EventReceived, "Request received", map[string]string{
		"kind": kind,
		"peer": peer,
	})
}

// PublishRejected publishes a payment rejection. The reason is not published.
func (p *EventPublisher) PublishRejected(requestID string) {
	p.publish(requestID, EventRejected, "Payment not accepted", nil)
}

// PublishCommitted publishes a committed payment
func (p *EventPublisher) PublishCommitted(requestID, contentID, digest string) {
	p.publish(requestID, EventCommitted, "Payment committed", map[string]string{
		"content_id": contentID,
		"tx_digest":  digest,
	})
}

// PublishSubmissionFailed publishes a ledger execution failure
func (p *EventPublisher) PublishSubmissionFailed(requestID string) {
	p.publish(requestID, EventSubmissionFailed, "Payment not accepted", nil)
}

// PublishProgress publishes a progress update event
func (p *EventPublisher) PublishProgress(requestID string, chunks, bytes int64) {
	p.publish(requestID, EventProgress, "Streaming", map[string]string{
		"chunks": strconv.FormatInt(chunks, 10),
		"bytes":  strconv.FormatInt(bytes, 10),
	})
}

// PublishCompleted publishes a request completed event
func (p *EventPublisher) PublishCompleted(requestID string, bytes int64, totalTime time.Duration) {
	p.publish(requestID, EventCompleted, "Request completed", map[string]string{
		"bytes":              strconv.FormatInt(bytes, 10),
		"total_time_seconds": strconv.FormatFloat(totalTime.Seconds(), 'f', 2, 64),
	})
}

// PublishAborted publishes an aborted request
func (p *EventPublisher) PublishAborted(requestID, errorMessage string) {
	p.publish(requestID, EventAborted, errorMessage, nil)
}

// GetSubscriptionCount returns the number of active subscriptions
func (p *EventPublisher) GetSubscriptionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}
