package deliverylog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BatchInserter persists a batch of deliveries.
type BatchInserter interface {
	BatchInsert(ctx context.Context, deliveries []Delivery) error
}

// Collector buffers deliveries in memory and flushes them to the store in
// batches. It is safe for concurrent use.
type Collector struct {
	store         BatchInserter
	buffer        []Delivery
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	done          chan struct{}
	stopOnce      sync.Once
	now           func() time.Time
}

// NewCollector creates a Collector that flushes when the buffer reaches
// batchSize or every flushInterval, whichever comes first.
func NewCollector(store BatchInserter, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		store:         store,
		buffer:        make([]Delivery, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
		now:           time.Now,
	}
}

// Start flushes on a timer until Stop is called or ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-ctx.Done():
			c.flush()
			return
		case <-c.done:
			c.flush()
			return
		}
	}
}

// Record buffers a delivery, stamping it when it has no timestamp.
func (c *Collector) Record(d Delivery) {
	if c == nil {
		return
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = c.now()
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, d)
	shouldFlush := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if shouldFlush {
		c.flush()
	}
}

// Flush writes any buffered deliveries immediately.
func (c *Collector) Flush() {
	c.flush()
}

func (c *Collector) flush() {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]Delivery, 0, c.batchSize)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.store.BatchInsert(ctx, batch); err != nil {
		slog.Error("failed to flush delivery log", "count", len(batch), "error", err)
	}
}

// Stop signals Start to exit after a final flush. It is safe to call twice.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
