package adapters

import (
	"context"

	"dealbook/internal/amqp"
	"dealbook/internal/core"
	applog "dealbook/internal/log"
	"dealbook/internal/store"
)

// Publisher sends deal change events.
type Publisher interface {
	PublishDealEvent(ctx context.Context, msg *amqp.DealEventMessage) error
}

// PublishingStore wraps a DealStore and publishes an event after each
// mutation the store acknowledged. A failed publish is logged; the mutation
// stands.
type PublishingStore struct {
	store.DealStore
	publisher Publisher
	logger    *applog.Logger
}

func NewPublishingStore(s store.DealStore, publisher Publisher, logger *applog.Logger) *PublishingStore {
	return &PublishingStore{
		DealStore: s,
		publisher: publisher,
		logger:    logger.WithComponent(applog.ComponentAMQP),
	}
}

func (p *PublishingStore) InsertDeal(ctx context.Context, d core.Deal) (string, error) {
	id, err := p.DealStore.InsertDeal(ctx, d)
	if err != nil {
		return "", err
	}
	p.publish(ctx, amqp.DealCreated, id, d.UserID)
	return id, nil
}

func (p *PublishingStore) UpdateDeal(ctx context.Context, userID, id string, patch store.DealPatch) error {
	if err := p.DealStore.UpdateDeal(ctx, userID, id, patch); err != nil {
		return err
	}
	p.publish(ctx, amqp.DealUpdated, id, userID)
	return nil
}

func (p *PublishingStore) DeleteDeal(ctx context.Context, userID, id string) error {
	if err := p.DealStore.DeleteDeal(ctx, userID, id); err != nil {
		return err
	}
	p.publish(ctx, amqp.DealDeleted, id, userID)
	return nil
}

func (p *PublishingStore) publish(ctx context.Context, t amqp.DealEventType, dealID, userID string) {
	// the event outlives the caller deadline
	if err := p.publisher.PublishDealEvent(context.WithoutCancel(ctx), amqp.NewDealEventMessage(t, dealID, userID)); err != nil {
		p.logger.WarnContext(ctx, "Failed to publish deal event",
			"type", string(t),
			applog.FieldDealID, dealID,
			applog.FieldUserID, userID,
			applog.FieldError, err)
	}
}
