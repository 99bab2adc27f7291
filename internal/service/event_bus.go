package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mtds-alfa/kipu-bank-v2/internal/domain"
)

// Sink receives ledger events. Delivery failures are logged, never retried.
type Sink interface {
	Deliver(ctx context.Context, event domain.Event) error
}

// EventBus fans ledger events out to sinks through a buffered queue drained by
// a worker pool. Publish never blocks the ledger: when the queue is full the
// event is dropped and counted.
type EventBus struct {
	sinks        []Sink
	queue        chan domain.Event
	workers      int
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
	mu           sync.Mutex
	dropped      int
	logger       *slog.Logger
}

func NewEventBus(sinks []Sink, workers, queueSize int, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	bus := &EventBus{
		sinks:        sinks,
		queue:        make(chan domain.Event, queueSize),
		workers:      workers,
		shutdownChan: make(chan struct{}),
		logger:       logger,
	}
	bus.startWorkers()
	return bus
}

func (b *EventBus) Publish(event domain.Event) {
	select {
	case b.queue <- event:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		b.logger.Warn("event queue full, event dropped",
			slog.String("event_id", event.ID),
			slog.String("type", string(event.Type)))
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (b *EventBus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *EventBus) startWorkers() {
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}
}

func (b *EventBus) worker(id int) {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.queue:
			b.dispatch(event, id)
		case <-b.shutdownChan:
			// Drain what is already queued before stopping.
			for {
				select {
				case event := <-b.queue:
					b.dispatch(event, id)
				default:
					return
				}
			}
		}
	}
}

func (b *EventBus) dispatch(event domain.Event, workerID int) {
	ctx := context.Background()
	for _, sink := range b.sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			b.logger.Error("event delivery failed",
				slog.String("event_id", event.ID),
				slog.String("type", string(event.Type)),
				slog.Int("worker_id", workerID),
				slog.String("error", err.Error()))
		}
	}
}

// Shutdown stops the workers after draining the queue. Safe to call more than
// once; every call waits for the drain to finish.
func (b *EventBus) Shutdown(ctx context.Context) error {
	b.shutdownOnce.Do(func() { close(b.shutdownChan) })

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("event bus shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSink writes every event to the logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Deliver(ctx context.Context, event domain.Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("ledger event",
		slog.String("event_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.Any("payload", event.Payload))
	return nil
}

// CaptureSink records delivered events; used by tests and local inspection.
type CaptureSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *CaptureSink) Deliver(ctx context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *CaptureSink) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, len(s.events))
	copy(out, s.events)
	return out
}
