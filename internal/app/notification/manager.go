// Package notification provides the notification manager for broadcasting events.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Type represents a notification type.
type Type string

const (
	TypeTrackChanged     Type = "track_changed"
	TypeStateChanged     Type = "state_changed"
	TypePlaybackFailed   Type = "playback_failed"
	TypePlaylistFinished Type = "playlist_finished"
	TypePlaylistLoaded   Type = "playlist_loaded"
	TypeInitialState     Type = "initial_state" // First message of a subscription
)

// DefaultSendTimeout bounds a single subscriber send during Broadcast.
const DefaultSendTimeout = 500 * time.Millisecond

// Metadata is the now-playing text shown to the user.
type Metadata struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}

// Notification is a single broadcast message.
type Notification struct {
	SequenceNo uint64    `json:"sequence_no"`
	Type       Type      `json:"type"`
	State      string    `json:"state"`
	NowPlaying Metadata  `json:"now_playing"`
	Index      int       `json:"index"`
	Message    string    `json:"message,omitempty"`
	Time       time.Time `json:"time"`
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
	sendTimeout   time.Duration
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
		sendTimeout:   DefaultSendTimeout,
	}
}

// SetSendTimeout overrides the per-subscriber send timeout.
func (m *Manager) SetSendTimeout(d time.Duration) {
	if d > 0 {
		m.sendTimeout = d
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
	}
	zlog.Debug().Msgf("notification: subscribed: id=%s", id)
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Broadcast stamps n with the next sequence number and sends it to all subscribers.
// Each send runs in its own goroutine and is abandoned after the send timeout.
func (m *Manager) Broadcast(n Notification) {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	n.SequenceNo = m.sequenceNo
	m.sequenceNoMu.Unlock()
	if n.Time.IsZero() {
		n.Time = time.Now()
	}

	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
			defer cancel()

			msg := n
			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(&msg)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Err(err).Msgf("notification: send failed: id=%s", s.id)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification: send timed out: id=%s", s.id)
			}
		}(sub)
	}
	wg.Wait()
}

// SequenceNo returns the last sequence number issued.
func (m *Manager) SequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	return m.sequenceNo
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}

// ChanStream delivers notifications to an in-process channel.
// Sends are dropped when the channel is full.
type ChanStream chan Notification

// Send implements Stream.
func (c ChanStream) Send(n *Notification) error {
	select {
	case c <- *n:
	default:
	}
	return nil
}
