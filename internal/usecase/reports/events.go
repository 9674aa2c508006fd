package reports

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"poliux/internal/domain"
	"poliux/internal/infra/metrics"
)

// Broadcaster рассылает события отчётов подписчикам внутри процесса.
// Медленный подписчик теряет события, но не блокирует остальных.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	next   uint64
	buffer int
	log    zerolog.Logger
}

type subscriber struct {
	ownerID string
	ch      chan domain.ReportEvent
}

var _ domain.ReportEventPublisher = (*Broadcaster)(nil)

// NewBroadcaster создаёт рассыльщик с буфером на каждого подписчика.
func NewBroadcaster(buffer int, logger zerolog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{
		subs:   map[uint64]*subscriber{},
		buffer: buffer,
		log:    logger.With().Str("component", "report_events").Logger(),
	}
}

// Subscribe подписывает на события отчётов владельца. Вызов cancel закрывает канал.
func (b *Broadcaster) Subscribe(ownerID string) (<-chan domain.ReportEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	sub := &subscriber{ownerID: ownerID, ch: make(chan domain.ReportEvent, b.buffer)}
	b.subs[id] = sub
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish реализует domain.ReportEventPublisher.
func (b *Broadcaster) Publish(_ context.Context, ev domain.ReportEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.ownerID != ev.OwnerID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.log.Warn().Str("report_id", ev.ReportID).Msg("подписчик не успевает, событие пропущено")
		}
	}
	return nil
}

// Sink: именованный получатель событий.
type Sink struct {
	Name      string
	Publisher domain.ReportEventPublisher
}

// Fanout отправляет событие во все получатели и собирает их ошибки.
type Fanout struct {
	sinks []Sink
}

var _ domain.ReportEventPublisher = (*Fanout)(nil)

// NewFanout создаёт рассылку по получателям. Пустые получатели пропускаются.
func NewFanout(sinks ...Sink) *Fanout {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s.Publisher != nil {
			kept = append(kept, s)
		}
	}
	return &Fanout{sinks: kept}
}

// Publish реализует domain.ReportEventPublisher.
func (f *Fanout) Publish(ctx context.Context, ev domain.ReportEvent) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publisher.Publish(ctx, ev); err != nil {
			metrics.ReportEventPublishErrors.WithLabelValues(s.Name).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
