// Package events publishes ledger domain events to RabbitMQ. Publishing is
// best effort: a failed publish is logged, never propagated, because the
// database commit already happened.
package events

import (
	"context"

	"github.com/labstock/labstock-backend/pkg/logger"
	"github.com/labstock/labstock-backend/pkg/messaging"
)

// Publisher emits typed ledger events.
type Publisher struct {
	pub    *messaging.Publisher
	logger *logger.Logger
}

// NewPublisher creates a ledger event publisher on the ledger events exchange.
func NewPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*Publisher, error) {
	pub, err := messaging.NewPublisher(rmq, messaging.ExchangeLedgerEvents, "ledger-service", log)
	if err != nil {
		return nil, err
	}
	return &Publisher{pub: pub, logger: log.WithComponent("events")}, nil
}

func (p *Publisher) publish(ctx context.Context, eventType string, data interface{}) {
	if err := p.pub.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to publish event")
	}
}

// AllocationRecorded publishes a committed allocation.
func (p *Publisher) AllocationRecorded(ctx context.Context, e messaging.AllocationRecordedEvent) {
	p.publish(ctx, messaging.EventAllocationRecorded, e)
}

// ReturnRecorded publishes a committed return.
func (p *Publisher) ReturnRecorded(ctx context.Context, e messaging.ReturnRecordedEvent) {
	p.publish(ctx, messaging.EventReturnRecorded, e)
}

// StockReceived publishes a goods receipt.
func (p *Publisher) StockReceived(ctx context.Context, e messaging.StockReceivedEvent) {
	p.publish(ctx, messaging.EventStockReceived, e)
}

// StockTransferred publishes an inter-location transfer.
func (p *Publisher) StockTransferred(ctx context.Context, e messaging.StockTransferredEvent) {
	p.publish(ctx, messaging.EventStockTransferred, e)
}

// StockWrittenOff publishes a breakage/loss write-off.
func (p *Publisher) StockWrittenOff(ctx context.Context, e messaging.StockWrittenOffEvent) {
	p.publish(ctx, messaging.EventStockWrittenOff, e)
}

// ItemLineDisabled publishes an enable/disable flip.
func (p *Publisher) ItemLineDisabled(ctx context.Context, e messaging.ItemLineDisabledEvent) {
	p.publish(ctx, messaging.EventItemLineDisabled, e)
}

// OverrideGranted publishes an admin override grant.
func (p *Publisher) OverrideGranted(ctx context.Context, e messaging.OverrideGrantedEvent) {
	p.publish(ctx, messaging.EventOverrideGranted, e)
}
