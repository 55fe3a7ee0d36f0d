// internal/notify/queue.go
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"paygate/internal/metrics"
	"paygate/internal/util"

	"github.com/hibiken/asynq"
)

// TaskDeliver is the asynq task type carrying one notification for one recipient.
const TaskDeliver = "notify:deliver"

const queueName = "notifications"

type deliverPayload struct {
	Identity string  `json:"identity"`
	Message  Message `json:"message"`
}

// QueueSink enqueues notifications on Redis through asynq. A QueueWorker delivers them.
type QueueSink struct {
	client   *asynq.Client
	admins   []string
	maxRetry int
	logger   *slog.Logger
}

// NewQueueSink creates a sink enqueuing on the Redis instance at redisAddr.
func NewQueueSink(redisAddr string, admins []string, maxRetry int) *QueueSink {
	return &QueueSink{
		client:   asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		admins:   append([]string(nil), admins...),
		maxRetry: maxRetry,
		logger:   util.GetLogger(),
	}
}

func (s *QueueSink) enqueue(ctx context.Context, identity string, msg Message) {
	b, err := json.Marshal(deliverPayload{Identity: identity, Message: msg})
	if err != nil {
		s.logger.Warn("notification encode failed", "to", identity, "error", err)
		return
	}
	task := asynq.NewTask(TaskDeliver, b)
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.MaxRetry(s.maxRetry),
		asynq.TaskID(msg.ID+":"+identity),
	)
	if err != nil {
		metrics.ObserveNotification("dropped")
		s.logger.Warn("notification enqueue failed", "to", identity, "id", msg.ID, "error", err)
	}
}

// NotifyUser implements Sink.
func (s *QueueSink) NotifyUser(ctx context.Context, identity string, msg Message) {
	s.enqueue(ctx, identity, withID(msg))
}

// NotifyAdmins implements Sink.
func (s *QueueSink) NotifyAdmins(ctx context.Context, msg Message) {
	msg = withID(msg)
	for _, admin := range s.admins {
		s.enqueue(ctx, admin, msg)
	}
}

// Close releases the Redis client.
func (s *QueueSink) Close() {
	_ = s.client.Close()
}

// QueueWorker consumes TaskDeliver tasks and hands them to a Deliverer.
type QueueWorker struct {
	server    *asynq.Server
	deliverer Deliverer
}

// NewQueueWorker creates a worker with the given concurrency.
func NewQueueWorker(redisAddr string, d Deliverer, concurrency int) *QueueWorker {
	server := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName: 1},
	})
	return &QueueWorker{server: server, deliverer: d}
}

// HandleDeliver processes one TaskDeliver task. A returned error makes asynq retry it.
func (w *QueueWorker) HandleDeliver(ctx context.Context, t *asynq.Task) error {
	var p deliverPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TaskDeliver, err, asynq.SkipRetry)
	}
	if err := w.deliverer.Deliver(ctx, p.Identity, p.Message); err != nil {
		metrics.ObserveNotification("failed")
		util.GetLogger().Warn("notification delivery failed", "to", p.Identity, "id", p.Message.ID, "error", err)
		return err
	}
	metrics.ObserveNotification("sent")
	return nil
}

// Start runs the worker in the background.
func (w *QueueWorker) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskDeliver, w.HandleDeliver)
	return w.server.Start(mux)
}

// Shutdown stops the worker after in-flight tasks finish.
func (w *QueueWorker) Shutdown() {
	w.server.Shutdown()
}
