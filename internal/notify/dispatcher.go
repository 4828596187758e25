package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/vehicleflow/internal/observability"
	"github.com/pitabwire/vehicleflow/model"
)

var (
	errQueueFull = errors.New("notification queue full")
	errClosed    = errors.New("dispatcher closed")
)

const defaultDeliveryTimeout = 5 * time.Second

// DispatcherConfig sizes the dispatcher's queue, worker pool and retry policy.
type DispatcherConfig struct {
	QueueSize       int
	Workers         int
	MaxAttempts     int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	DeliveryTimeout time.Duration

	// BreakerThreshold is the number of consecutive failed attempts that
	// opens the delivery circuit. Zero disables the breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.QueueSize < 1 {
		c.QueueSize = 256
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 100 * time.Millisecond
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = c.BackoffInitial
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = defaultDeliveryTimeout
	}
	return c
}

// Dispatcher is a Publisher backed by a bounded queue and a fixed pool of
// delivery workers. A message that cannot be queued, or that exhausts its
// delivery attempts, is logged and counted as NOTIFICATION_DELIVERY_FAILURE.
type Dispatcher struct {
	notifier Notifier
	cfg      DispatcherConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
	breaker  *Breaker

	queue chan Message
	abort chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a Dispatcher and starts its workers. metrics may be
// nil.
func NewDispatcher(notifier Notifier, cfg DispatcherConfig, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		queue:    make(chan Message, cfg.QueueSize),
		abort:    make(chan struct{}),
	}
	if cfg.BreakerThreshold > 0 {
		d.breaker = NewBreaker(cfg.BreakerThreshold, 1, cfg.BreakerCooldown)
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Publish queues msg for delivery without blocking. When the queue is full or
// the dispatcher is closed the message is dropped.
func (d *Dispatcher) Publish(_ context.Context, msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(msg, errClosed)
		return
	}

	select {
	case d.queue <- msg:
		d.setDepth()
	default:
		d.drop(msg, errQueueFull)
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
// If ctx expires first, pending retries are abandoned and ctx.Err() is
// returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		close(d.abort)
		<-done
		return ctx.Err()
	}
}

// HealthCheck reports an open delivery circuit, then delegates to the
// notifier when it can report its own health.
func (d *Dispatcher) HealthCheck(ctx context.Context) error {
	if d.breaker != nil && d.breaker.State() == BreakerOpen {
		return errCircuitOpen
	}
	if hc, ok := d.notifier.(observability.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Pending returns the number of queued messages.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.setDepth()
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	backoff := d.cfg.BackoffInitial
	for attempt := 1; ; attempt++ {
		err := d.attempt(msg)
		if err == nil {
			d.record(msg.Topic, observability.NotificationDelivered)
			return
		}
		if attempt >= d.cfg.MaxAttempts {
			d.fail(msg, attempt, err)
			return
		}

		d.record(msg.Topic, observability.NotificationRetried)
		d.logger.Warn("notification delivery failed, retrying",
			zap.String("topic", msg.Topic),
			zap.String("message_id", msg.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-d.abort:
			timer.Stop()
			d.fail(msg, attempt, err)
			return
		}

		backoff *= 2
		if backoff > d.cfg.BackoffMax {
			backoff = d.cfg.BackoffMax
		}
	}
}

func (d *Dispatcher) attempt(msg Message) error {
	if d.breaker != nil {
		if err := d.breaker.Allow(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
	err := d.notifier.Notify(ctx, msg)
	cancel()

	if d.breaker != nil {
		if err != nil {
			d.breaker.RecordFailure()
		} else {
			d.breaker.RecordSuccess()
		}
	}
	return err
}

func (d *Dispatcher) fail(msg Message, attempts int, cause error) {
	d.record(msg.Topic, observability.NotificationFailed)
	d.logger.Error("notification delivery gave up",
		zap.String("code", model.ErrNotificationDeliveryFailure),
		zap.String("topic", msg.Topic),
		zap.String("message_id", msg.ID),
		zap.String("vin", msg.Event.VIN),
		zap.Int("attempts", attempts),
		zap.Error(model.NewNotificationDeliveryError(msg.Topic, cause)),
	)
}

func (d *Dispatcher) drop(msg Message, cause error) {
	d.record(msg.Topic, observability.NotificationDropped)
	d.logger.Error("notification dropped",
		zap.String("code", model.ErrNotificationDeliveryFailure),
		zap.String("topic", msg.Topic),
		zap.String("message_id", msg.ID),
		zap.String("vin", msg.Event.VIN),
		zap.Error(model.NewNotificationDeliveryError(msg.Topic, cause)),
	)
}

func (d *Dispatcher) record(topic, status string) {
	if d.metrics != nil {
		d.metrics.RecordNotification(topic, status)
	}
}

func (d *Dispatcher) setDepth() {
	if d.metrics != nil {
		d.metrics.SetNotificationQueueDepth(len(d.queue))
	}
}
