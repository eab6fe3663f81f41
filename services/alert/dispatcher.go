// Package alert delivers security alerts without holding up the request that
// triggered them.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/waf-gateway/internal/observability"
	"github.com/upb/waf-gateway/services"
	"go.uber.org/zap"
)

// Config holds configuration for the Dispatcher
type Config struct {
	BufferSize  int           // Size of the alert queue
	WorkerCount int           // Number of concurrent senders
	SendTimeout time.Duration // Upper bound on a single delivery
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
		SendTimeout: 2 * time.Second,
	}
}

// Dispatcher queues alerts and delivers them from background workers
type Dispatcher struct {
	sink        Sink
	logger      *zap.Logger
	metrics     *observability.Metrics
	queue       chan string
	workerCount int
	bufferSize  int
	sendTimeout time.Duration
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.RWMutex
}

// NewDispatcher creates a new Dispatcher. metrics may be nil.
func NewDispatcher(sink Sink, logger *zap.Logger, metrics *observability.Metrics, config Config) *Dispatcher {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaults.SendTimeout
	}

	return &Dispatcher{
		sink:        sink,
		logger:      logger,
		metrics:     metrics,
		queue:       make(chan string, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		sendTimeout: config.SendTimeout,
	}
}

// Start starts the background workers
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("alert dispatcher already started")
	}

	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.started = true
	d.logger.Info("started alert dispatcher",
		zap.Int("worker_count", d.workerCount),
		zap.Int("buffer_size", d.bufferSize))

	return nil
}

// Stop stops accepting alerts and waits for queued ones to be delivered
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return services.ErrNotStarted
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.logger.Info("stopping alert dispatcher", zap.Int("pending_alerts", len(d.queue)))

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("alert dispatcher stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("alert dispatcher stop timeout after %v", timeout)
	}
}

// SendAlert queues message for delivery and returns immediately. ctx belongs
// to the request that raised the alert and is deliberately not used for the
// delivery itself. A full queue drops the alert.
func (d *Dispatcher) SendAlert(ctx context.Context, message string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.started || d.stopped {
		return services.ErrNotStarted
	}

	select {
	case d.queue <- message:
		return nil
	default:
		d.metrics.RecordAlertDropped()
		d.logger.Warn("alert queue full, dropping alert", zap.String("message", message))
		return services.ErrBufferFull
	}
}

// Pending returns the number of queued alerts
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for message := range d.queue {
		if err := d.deliver(message); err != nil {
			d.metrics.RecordDependencyError("alert")
			d.logger.Error("failed to deliver alert",
				zap.Int("worker_id", id),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) deliver(message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()
	return d.sink.Send(ctx, message)
}
