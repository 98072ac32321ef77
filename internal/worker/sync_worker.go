package worker

import (
	"context"
	"errors"
	"fmt"

	"dealbook/internal/amqp"
	"dealbook/internal/core"
	applog "dealbook/internal/log"
	"dealbook/internal/sheets"
	"dealbook/internal/store"
)

// DealSource loads a deal regardless of owner.
type DealSource interface {
	DealByID(ctx context.Context, id string) (core.Deal, error)
}

// SyncWorker mirrors deal change events from AMQP into a spreadsheet.
type SyncWorker struct {
	deals  DealSource
	mirror sheets.DealMirror
	logger *applog.Logger
}

func NewSyncWorker(deals DealSource, mirror sheets.DealMirror, logger *applog.Logger) *SyncWorker {
	return &SyncWorker{
		deals:  deals,
		mirror: mirror,
		logger: logger.WithComponent(applog.ComponentWorker),
	}
}

// HandleDealEvent processes a single deal event. Create and update events
// write the current row; a delete event, or a deal that no longer exists,
// clears it. A returned error makes the consumer requeue the message.
func (w *SyncWorker) HandleDealEvent(ctx context.Context, msg *amqp.DealEventMessage) error {
	w.logger.InfoContext(ctx, "Processing deal event",
		"type", msg.Type,
		applog.FieldDealID, msg.DealID,
		applog.FieldUserID, msg.UserID)

	switch msg.Type {
	case amqp.DealCreated, amqp.DealUpdated:
		deal, err := w.deals.DealByID(ctx, msg.DealID)
		if errors.Is(err, store.ErrNotFound) {
			w.logger.InfoContext(ctx, "Deal gone before sync, clearing row", applog.FieldDealID, msg.DealID)
			return w.clear(ctx, msg.DealID)
		}
		if err != nil {
			return fmt.Errorf("load deal %s: %w", msg.DealID, err)
		}
		if err := w.mirror.UpsertDeal(ctx, deal); err != nil {
			w.logger.ErrorContext(ctx, "Failed to mirror deal", applog.FieldDealID, msg.DealID, applog.FieldError, err)
			return fmt.Errorf("mirror deal %s: %w", msg.DealID, err)
		}
		w.logger.InfoContext(ctx, "Deal mirrored", applog.FieldDealID, msg.DealID)
		return nil
	case amqp.DealDeleted:
		return w.clear(ctx, msg.DealID)
	default:
		return fmt.Errorf("unknown deal event type %q", msg.Type)
	}
}

func (w *SyncWorker) clear(ctx context.Context, id string) error {
	if err := w.mirror.DeleteDeal(ctx, id); err != nil {
		w.logger.ErrorContext(ctx, "Failed to clear deal row", applog.FieldDealID, id, applog.FieldError, err)
		return fmt.Errorf("clear deal %s: %w", id, err)
	}
	w.logger.InfoContext(ctx, "Deal row cleared", applog.FieldDealID, id)
	return nil
}
