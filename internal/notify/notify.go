// Package notify delivers post-commit side effects of vehicle moves to
// downstream consumers. Delivery is asynchronous and never affects the
// outcome of the move that produced it.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/vehicleflow/internal/observability"
	"github.com/pitabwire/vehicleflow/model"
)

// TopicVehicleMoved is published after every committed move.
const TopicVehicleMoved = "vehicle.moved"

// Message is one notification about a committed move.
type Message struct {
	ID        string              `json:"id"`
	Topic     string              `json:"topic"`
	Event     model.WorkflowEvent `json:"event"`
	CreatedAt time.Time           `json:"created_at"`
}

// NewMessage builds a Message for topic carrying event.
func NewMessage(topic string, event model.WorkflowEvent) Message {
	return Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Event:     event,
		CreatedAt: time.Now().UTC(),
	}
}

// Notifier delivers a single message to a downstream transport.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, msg Message) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Publisher accepts messages for asynchronous delivery. Publish must not
// block the caller.
type Publisher interface {
	Publish(ctx context.Context, msg Message)
}

// MultiNotifier fans a message out to every wrapped notifier and joins their
// errors.
type MultiNotifier []Notifier

// Notify delivers msg to every notifier, continuing past failures.
func (m MultiNotifier) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HealthCheck joins the health of every notifier that reports one.
func (m MultiNotifier) HealthCheck(ctx context.Context) error {
	var errs []error
	for _, n := range m {
		if hc, ok := n.(observability.HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes each message to a zap logger. It is the default
// transport when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs msg at info level.
func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	n.logger.Info("vehicle notification",
		zap.String("topic", msg.Topic),
		zap.String("message_id", msg.ID),
		zap.String("event_id", msg.Event.ID),
		zap.String("vin", msg.Event.VIN),
		zap.String("from", string(msg.Event.FromLocation)),
		zap.String("to", string(msg.Event.ToLocation)),
	)
	return nil
}
