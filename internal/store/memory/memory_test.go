package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dealbook/internal/core"
	"dealbook/internal/session"
	"dealbook/internal/store"
)

func deal(user string, at time.Time, usdt int64) core.Deal {
	return core.Deal{
		UserID:     user,
		DealDate:   at,
		USDT:       decimal.NewFromInt(usdt),
		BuyAmount:  decimal.NewFromInt(usdt),
		SellAmount: decimal.NewFromInt(usdt),
	}
}

func TestStoreListDealsScopesAndOrders(t *testing.T) {
	ctx := context.Background()
	s := New()
	feb := func(day int) time.Time { return time.Date(2024, 2, day, 12, 0, 0, 0, time.UTC) }

	for _, d := range []core.Deal{
		deal("u1", feb(3), 10),
		deal("u1", feb(20), 20),
		deal("u1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 30),
		deal("u2", feb(10), 40),
	} {
		if _, err := s.InsertDeal(ctx, d); err != nil {
			t.Fatalf("InsertDeal: %v", err)
		}
	}

	m, _ := core.ParseMonth("2024-02")
	got, err := s.ListDeals(ctx, store.ForMonth("u1", m, time.UTC))
	if err != nil {
		t.Fatalf("ListDeals: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 deals, got %d", len(got))
	}
	if !got[0].DealDate.Equal(feb(20)) {
		t.Fatalf("expected newest first, got %v", got[0].DealDate)
	}
}

func TestStoreMutationsAreUserScoped(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.InsertDeal(ctx, deal("u1", time.Now(), 100))
	if err != nil {
		t.Fatal(err)
	}

	usdt := decimal.NewFromInt(50)
	if err := s.UpdateDeal(ctx, "u2", id, store.DealPatch{USDT: &usdt}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign update: got %v", err)
	}
	if err := s.UpdateDeal(ctx, "u1", id, store.DealPatch{USDT: &usdt}); err != nil {
		t.Fatalf("UpdateDeal: %v", err)
	}
	d, err := s.GetDeal(ctx, "u1", id)
	if err != nil || !d.USDT.Equal(usdt) {
		t.Fatalf("GetDeal = %+v, %v", d, err)
	}

	zero := decimal.Zero
	if err := s.UpdateDeal(ctx, "u1", id, store.DealPatch{USDT: &zero}); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}

	if err := s.DeleteDeal(ctx, "u2", id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign delete: got %v", err)
	}
	if err := s.DeleteDeal(ctx, "u1", id); err != nil {
		t.Fatalf("DeleteDeal: %v", err)
	}
	if _, err := s.GetDeal(ctx, "u1", id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestStoreUsersAndRecoveryTokens(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := session.User{ID: "u1", Email: "a@example.com", PasswordHash: "h"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateUser(ctx, session.User{ID: "u2", Email: "a@example.com"}); !errors.Is(err, session.ErrEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}
	if _, err := s.UserByEmail(ctx, "b@example.com"); !errors.Is(err, session.ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	now := time.Now()
	if err := s.SaveRecoveryToken(ctx, "hash", "u1", now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if uid, err := s.ConsumeRecoveryToken(ctx, "hash", now); err != nil || uid != "u1" {
		t.Fatalf("ConsumeRecoveryToken = %q, %v", uid, err)
	}
	if _, err := s.ConsumeRecoveryToken(ctx, "hash", now); !errors.Is(err, session.ErrInvalidRecoveryToken) {
		t.Fatalf("token reuse: got %v", err)
	}

	_ = s.SaveRecoveryToken(ctx, "old", "u1", now.Add(-time.Minute))
	if _, err := s.ConsumeRecoveryToken(ctx, "old", now); !errors.Is(err, session.ErrInvalidRecoveryToken) {
		t.Fatalf("expired token: got %v", err)
	}
}
