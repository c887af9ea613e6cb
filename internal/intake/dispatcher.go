// ABOUTME: Per-owner serializing dispatcher for inbound events
// ABOUTME: Bounded workers; events from one owner are processed in arrival order

package intake

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/enzopromo/promo-gateway/internal/transport"
)

// Handler processes one inbound event.
type Handler func(ctx context.Context, ev transport.Event)

// Dispatcher fans inbound events out to a bounded set of workers while
// keeping all events from one owner on the same worker, so the
// conversation tracker never sees out-of-order mutation for a key.
type Dispatcher struct {
	queues  []chan transport.Event
	handler Handler
	logger  *slog.Logger

	wg   sync.WaitGroup
	once sync.Once
}

// NewDispatcher creates a dispatcher with the given number of workers.
// Each worker has a buffered queue; when a queue is full the event is
// dropped with a log record rather than blocking the transport's sync
// loop.
func NewDispatcher(workers, buffer int, handler Handler, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 32
	}
	if logger == nil {
		logger = slog.Default()
	}

	queues := make([]chan transport.Event, workers)
	for i := range queues {
		queues[i] = make(chan transport.Event, buffer)
	}
	return &Dispatcher{
		queues:  queues,
		handler: handler,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Start launches the workers. They exit when the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := range d.queues {
		d.wg.Add(1)
		go func(queue chan transport.Event) {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-queue:
					d.handler(ctx, ev)
				}
			}
		}(d.queues[i])
	}
}

// Enqueue routes an event to its owner's worker. Returns false if the
// queue was full and the event was dropped.
func (d *Dispatcher) Enqueue(ev transport.Event) bool {
	queue := d.queues[d.workerFor(ev.Sender)]
	select {
	case queue <- ev:
		return true
	default:
		d.logger.Warn("event queue full, dropping event",
			"owner", ev.Sender, "kind", ev.Kind)
		return false
	}
}

// Wait blocks until all workers have exited after context cancellation.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) workerFor(ownerID string) int {
	h := fnv.New32a()
	h.Write([]byte(ownerID))
	return int(h.Sum32() % uint32(len(d.queues)))
}
