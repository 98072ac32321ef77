package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dealbook/internal/amqp"
	"dealbook/internal/core"
	applog "dealbook/internal/log"
	mirrormem "dealbook/internal/sheets/memory"
	"dealbook/internal/store"
)

type fakeSource struct {
	deals map[string]core.Deal
	err   error
}

func (f *fakeSource) DealByID(_ context.Context, id string) (core.Deal, error) {
	if f.err != nil {
		return core.Deal{}, f.err
	}
	d, ok := f.deals[id]
	if !ok {
		return core.Deal{}, store.ErrNotFound
	}
	return d, nil
}

type failingMirror struct{}

func (failingMirror) UpsertDeal(context.Context, core.Deal) error { return errors.New("quota") }
func (failingMirror) DeleteDeal(context.Context, string) error    { return errors.New("quota") }

func newDeal(id string) core.Deal {
	return core.Deal{
		ID:         id,
		UserID:     "u1",
		DealDate:   time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		USDT:       decimal.NewFromInt(100),
		BuyAmount:  decimal.NewFromInt(101),
		SellAmount: decimal.NewFromInt(102),
	}
}

func TestHandleDealEvent(t *testing.T) {
	ctx := context.Background()
	logger := applog.New(applog.DefaultConfig())
	src := &fakeSource{deals: map[string]core.Deal{"d1": newDeal("d1")}}
	mirror := mirrormem.New()
	w := NewSyncWorker(src, mirror, logger)

	if err := w.HandleDealEvent(ctx, amqp.NewDealEventMessage(amqp.DealCreated, "d1", "u1")); err != nil {
		t.Fatalf("created: %v", err)
	}
	if rows := mirror.Rows(); len(rows) != 1 || rows[0].ID != "d1" {
		t.Fatalf("expected d1 mirrored, got %+v", rows)
	}

	updated := newDeal("d1")
	updated.SellAmount = decimal.NewFromInt(110)
	src.deals["d1"] = updated
	if err := w.HandleDealEvent(ctx, amqp.NewDealEventMessage(amqp.DealUpdated, "d1", "u1")); err != nil {
		t.Fatalf("updated: %v", err)
	}
	if rows := mirror.Rows(); !rows[0].SellAmount.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("expected updated row, got %+v", rows[0])
	}

	if err := w.HandleDealEvent(ctx, amqp.NewDealEventMessage(amqp.DealDeleted, "d1", "u1")); err != nil {
		t.Fatalf("deleted: %v", err)
	}
	if rows := mirror.Rows(); len(rows) != 0 {
		t.Fatalf("expected row cleared, got %+v", rows)
	}
}

func TestHandleDealEvent_MissingDealClearsRow(t *testing.T) {
	ctx := context.Background()
	mirror := mirrormem.New()
	_ = mirror.UpsertDeal(ctx, newDeal("gone"))

	w := NewSyncWorker(&fakeSource{deals: map[string]core.Deal{}}, mirror, applog.New(applog.DefaultConfig()))
	if err := w.HandleDealEvent(ctx, amqp.NewDealEventMessage(amqp.DealUpdated, "gone", "u1")); err != nil {
		t.Fatalf("HandleDealEvent() error = %v", err)
	}
	if rows := mirror.Rows(); len(rows) != 0 {
		t.Fatalf("expected row cleared, got %+v", rows)
	}
}

func TestHandleDealEvent_Errors(t *testing.T) {
	ctx := context.Background()
	logger := applog.New(applog.DefaultConfig())

	t.Run("store failure is returned for requeue", func(t *testing.T) {
		w := NewSyncWorker(&fakeSource{err: errors.New("db locked")}, mirrormem.New(), logger)
		if err := w.HandleDealEvent(ctx, amqp.NewDealEventMessage(amqp.DealCreated, "d1", "u1")); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("mirror failure is returned for requeue", func(t *testing.T) {
		src := &fakeSource{deals: map[string]core.Deal{"d1": newDeal("d1")}}
		w := NewSyncWorker(src, failingMirror{}, logger)
		if err := w.HandleDealEvent(ctx, amqp.NewDealEventMessage(amqp.DealCreated, "d1", "u1")); err == nil {
			t.Fatal("expected error")
		}
		if err := w.HandleDealEvent(ctx, amqp.NewDealEventMessage(amqp.DealDeleted, "d1", "u1")); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		w := NewSyncWorker(&fakeSource{}, mirrormem.New(), logger)
		msg := &amqp.DealEventMessage{Type: "deal.archived", DealID: "d1"}
		if err := w.HandleDealEvent(ctx, msg); err == nil {
			t.Fatal("expected error")
		}
	})
}
