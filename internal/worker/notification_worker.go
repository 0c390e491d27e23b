package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/orbis-track/borrow-service/internal/events"
)

// EventHandler processes events taken off the queue.
type EventHandler interface {
	EventTypes() []events.EventType
	Handle(ctx context.Context, event events.Event) error
}

// NotificationWorker decouples notification delivery from the request that caused it.
type NotificationWorker struct {
	handler EventHandler
	logger  *zap.Logger
	queue   chan events.Event
	wg      sync.WaitGroup
	once    sync.Once
}

// StartNotificationWorker subscribes the handler to the dispatcher and starts draining the queue.
// Events published while the queue is full are dropped with a warning.
func StartNotificationWorker(ctx context.Context, dispatcher events.Dispatcher, handler EventHandler, logger *zap.Logger, buffer int) *NotificationWorker {
	if dispatcher == nil || handler == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 64
	}
	w := &NotificationWorker{
		handler: handler,
		logger:  logger,
		queue:   make(chan events.Event, buffer),
	}
	for _, eventType := range handler.EventTypes() {
		dispatcher.Subscribe(eventType, w.enqueue)
	}
	w.wg.Add(1)
	go w.run(ctx)
	return w
}

func (w *NotificationWorker) enqueue(_ context.Context, event events.Event) error {
	select {
	case w.queue <- event:
	default:
		w.logger.Warn("notification queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID))
	}
	return nil
}

func (w *NotificationWorker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case event, ok := <-w.queue:
			if !ok {
				return
			}
			w.handle(event)
		}
	}
}

func (w *NotificationWorker) drain() {
	for {
		select {
		case event := <-w.queue:
			w.handle(event)
		default:
			return
		}
	}
}

func (w *NotificationWorker) handle(event events.Event) {
	if err := w.handler.Handle(context.Background(), event); err != nil {
		w.logger.Error("notification failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

// Stop waits for queued events to be handled. Cancel the start context first.
func (w *NotificationWorker) Stop() {
	if w == nil {
		return
	}
	w.once.Do(w.wg.Wait)
}
