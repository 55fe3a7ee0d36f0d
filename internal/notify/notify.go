// internal/notify/notify.go
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"paygate/internal/metrics"
	"paygate/internal/util"

	"github.com/google/uuid"
)

// Action is a structured reply option attached to a message, e.g. an approve button.
type Action struct {
	Label string `json:"label"`
	Data  string `json:"data"` // Opaque callback payload, e.g. "approve:exchange/42"
}

// Message is a notification body with optional actions.
type Message struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Actions []Action `json:"actions,omitempty"`
}

// Sink delivers notifications. Delivery is best-effort: methods never fail
// and never block on the recipient.
type Sink interface {
	NotifyUser(ctx context.Context, identity string, msg Message)
	NotifyAdmins(ctx context.Context, msg Message)
}

// Deliverer sends one message to one identity over the chat transport.
type Deliverer interface {
	Deliver(ctx context.Context, identity string, msg Message) error
}

// LogDeliverer writes messages to the log instead of a chat transport.
type LogDeliverer struct{}

// Deliver implements Deliverer.
func (LogDeliverer) Deliver(ctx context.Context, identity string, msg Message) error {
	util.GetLogger().Info("notification", "to", identity, "id", msg.ID, "text", msg.Text, "actions", len(msg.Actions))
	return nil
}

func withID(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return msg
}

type job struct {
	identity string
	msg      Message
}

// AsyncSink queues notifications in memory and delivers them from a worker pool.
// A full queue drops the notification with a warning.
type AsyncSink struct {
	deliverer Deliverer
	admins    []string
	timeout   time.Duration
	logger    *slog.Logger

	jobs   chan job
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// NewAsyncSink starts workers delivering through d. admins is the set NotifyAdmins fans out to.
func NewAsyncSink(d Deliverer, admins []string, workers, queueSize int, timeout time.Duration) *AsyncSink {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	s := &AsyncSink{
		deliverer: d,
		admins:    append([]string(nil), admins...),
		timeout:   timeout,
		logger:    util.GetLogger(),
		jobs:      make(chan job, queueSize),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.work()
	}
	return s
}

func (s *AsyncSink) work() {
	defer s.wg.Done()
	for j := range s.jobs {
		s.deliver(j)
	}
}

func (s *AsyncSink) deliver(j job) {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.deliverer.Deliver(ctx, j.identity, j.msg); err != nil {
		metrics.ObserveNotification("failed")
		s.logger.Warn("notification delivery failed", "to", j.identity, "id", j.msg.ID, "error", err)
		return
	}
	metrics.ObserveNotification("sent")
}

func (s *AsyncSink) enqueue(identity string, msg Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.ObserveNotification("dropped")
		s.logger.Warn("notification dropped, sink closed", "to", identity, "id", msg.ID)
		return
	}
	select {
	case s.jobs <- job{identity: identity, msg: msg}:
	default:
		metrics.ObserveNotification("dropped")
		s.logger.Warn("notification dropped, queue full", "to", identity, "id", msg.ID)
	}
}

// NotifyUser implements Sink.
func (s *AsyncSink) NotifyUser(ctx context.Context, identity string, msg Message) {
	s.enqueue(identity, withID(msg))
}

// NotifyAdmins implements Sink.
func (s *AsyncSink) NotifyAdmins(ctx context.Context, msg Message) {
	msg = withID(msg)
	for _, admin := range s.admins {
		s.enqueue(admin, msg)
	}
}

// Close stops accepting notifications and waits for queued ones to be delivered.
func (s *AsyncSink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.jobs)
		s.mu.Unlock()
		s.wg.Wait()
	})
}
