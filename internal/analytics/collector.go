package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ippousyuga/search-lucene/pkg/kafka"
)

// Tracker accepts analytics events without blocking the caller.
type Tracker interface {
	Track(event any)
}

// Collector buffers events and publishes them in batches, when the buffer
// reaches BatchSize or every FlushInterval, whichever comes first.
type Collector struct {
	publisher     kafka.Publisher
	batchSize     int
	maxBuffered   int
	flushInterval time.Duration

	mu      sync.Mutex
	buffer  []kafka.Event
	flushCh chan struct{}
	done    chan struct{}
	logger  *slog.Logger
}

func NewCollector(publisher kafka.Publisher, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		batchSize:     batchSize,
		maxBuffered:   batchSize * 10,
		flushInterval: flushInterval,
		buffer:        make([]kafka.Event, 0, batchSize),
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
		logger:        slog.Default().With("component", "analytics-collector"),
	}
}

// Start runs the flush loop in the background until ctx is cancelled, then
// makes a final flush. Close waits for it.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.flush(ctx)
			case <-c.flushCh:
				c.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "batch_size", c.batchSize, "flush_interval", c.flushInterval)
}

// Track buffers event, keyed by its collection so one collection's events
// stay ordered on a partition. Events beyond the buffer limit are dropped.
func (c *Collector) Track(event any) {
	c.mu.Lock()
	if len(c.buffer) >= c.maxBuffered {
		c.mu.Unlock()
		c.logger.Warn("analytics event dropped (buffer full)")
		return
	}
	c.buffer = append(c.buffer, kafka.Event{Key: eventKey(event), Value: event})
	full := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if full {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

// Buffered returns the number of events waiting to be published.
func (c *Collector) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

func (c *Collector) Close() {
	<-c.done
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	c.mu.Unlock()

	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("batch flush failed", "batch_size", len(batch), "error", err)
		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		if len(c.buffer) > c.maxBuffered {
			dropped := len(c.buffer) - c.maxBuffered
			c.buffer = c.buffer[:c.maxBuffered]
			c.logger.Warn("buffer overflow, events dropped", "dropped", dropped)
		}
		c.mu.Unlock()
		return
	}
	c.logger.Debug("batch flushed", "events", len(batch))
}

func eventKey(event any) string {
	switch e := event.(type) {
	case SearchEvent:
		return e.Collection
	case BuildEvent:
		return e.Collection
	default:
		return "analytics"
	}
}
