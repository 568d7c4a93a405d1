package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/school-transfer-api/internal/models"
	"github.com/noah-isme/school-transfer-api/pkg/jobs"
)

// EventBroker publishes events to an external message bus.
type EventBroker interface {
	PublishJSON(ctx context.Context, routingKey string, payload interface{}) error
}

// EventDispatcher delivers transfer events asynchronously. The in-process hub
// is notified once; broker publishes are retried by the queue.
type EventDispatcher struct {
	queue   *jobs.Queue[models.TransferEvent]
	hub     *EventHub
	broker  EventBroker
	metrics *MetricsService
	logger  *zap.Logger
}

// NewEventDispatcher wires the dispatcher to its sinks. broker may be nil.
func NewEventDispatcher(hub *EventHub, broker EventBroker, metrics *MetricsService, cfg jobs.QueueConfig) *EventDispatcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	d := &EventDispatcher{hub: hub, broker: broker, metrics: metrics, logger: cfg.Logger}
	d.queue = jobs.NewQueue("transfer-events", d.deliver, cfg)
	d.queue.OnDrop(func(job jobs.Job[models.TransferEvent], err error) {
		d.metrics.RecordEventDelivery("broker", err)
		d.logger.Error("transfer event dropped",
			zap.String("event_id", job.Key),
			zap.String("event_type", string(job.Payload.Type)),
			zap.Error(err),
		)
	})
	return d
}

// Start begins delivery workers.
func (d *EventDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Shutdown delivers what is already queued, bounded by ctx.
func (d *EventDispatcher) Shutdown(ctx context.Context) error {
	return d.queue.Shutdown(ctx)
}

// Publish enqueues event for delivery. It does not wait for the sinks.
func (d *EventDispatcher) Publish(ctx context.Context, event models.TransferEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.queue.Enqueue(jobs.Job[models.TransferEvent]{Key: event.ID, Payload: event})
}

func (d *EventDispatcher) deliver(ctx context.Context, job jobs.Job[models.TransferEvent]) error {
	event := job.Payload
	if job.Attempt == 0 && d.hub != nil {
		d.hub.Publish(event)
		d.metrics.RecordEventDelivery("hub", nil)
	}
	if d.broker == nil {
		return nil
	}
	err := d.broker.PublishJSON(ctx, event.RoutingKey(), event)
	if err == nil {
		d.metrics.RecordEventDelivery("broker", nil)
	}
	return err
}
