package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"poliux/internal/domain"
	"poliux/internal/infra/metrics"
)

// RabbitEventQueue публикует события отчётов в durable-очередь RabbitMQ.
// Соединение восстанавливается при следующей публикации, если брокер его закрыл.
type RabbitEventQueue struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ domain.ReportEventPublisher = (*RabbitEventQueue)(nil)

// NewRabbitEventQueue подключается к брокеру и объявляет очередь.
func NewRabbitEventQueue(amqpURL, queue string) (*RabbitEventQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	q := &RabbitEventQueue{url: amqpURL, queue: queue}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.connectLocked(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *RabbitEventQueue) connectLocked() error {
	start := time.Now()
	conn, err := amqp.Dial(q.url)
	metrics.ObserveNetworkRequest("rabbitmq", "dial", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue %s: %w", q.queue, err)
	}
	q.conn, q.ch = conn, ch
	return nil
}

// Publish реализует domain.ReportEventPublisher.
func (q *RabbitEventQueue) Publish(ctx context.Context, ev domain.ReportEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch == nil || q.ch.IsClosed() || q.conn.IsClosed() {
		q.closeLocked()
		if err := q.connectLocked(); err != nil {
			return err
		}
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ReportID + ":" + string(ev.Status),
		Timestamp:    ev.OccurredAt,
		Type:         "report." + string(ev.Status),
		Body:         body,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (q *RabbitEventQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closeLocked()
}

func (q *RabbitEventQueue) closeLocked() error {
	var errs []error
	if q.ch != nil && !q.ch.IsClosed() {
		errs = append(errs, q.ch.Close())
	}
	if q.conn != nil && !q.conn.IsClosed() {
		errs = append(errs, q.conn.Close())
	}
	q.ch, q.conn = nil, nil
	return errors.Join(errs...)
}
