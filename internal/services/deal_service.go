package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"dealbook/internal/cache"
	"dealbook/internal/core"
	applog "dealbook/internal/log"
	"dealbook/internal/session"
	"dealbook/internal/store"
)

// Gate yields the identity records are scoped to, or an error while no
// query may be issued.
type Gate interface {
	Identity(ctx context.Context) (session.Identity, error)
}

type Options struct {
	Timeout     time.Duration
	ReadRetries int
	RetryBase   time.Duration
	Location    *time.Location
}

// CreateInput carries the user-entered values of a new deal. Commissions are
// clamped to [0, 100] before use.
type CreateInput struct {
	USDT           decimal.Decimal
	BuyCommission  decimal.Decimal
	SellCommission decimal.Decimal
}

// UpdateInput carries a partial edit; nil fields are unchanged.
type UpdateInput struct {
	USDT           *decimal.Decimal
	BuyCommission  *decimal.Decimal
	BuyAmount      *decimal.Decimal
	SellCommission *decimal.Decimal
	SellAmount     *decimal.Decimal
}

// Preview holds the computed amounts of a deal that has not been saved.
type Preview struct {
	USDT           decimal.Decimal `json:"usdt"`
	BuyCommission  decimal.Decimal `json:"buy_commission"`
	BuyAmount      decimal.Decimal `json:"buy_amount"`
	SellCommission decimal.Decimal `json:"sell_commission"`
	SellAmount     decimal.Decimal `json:"sell_amount"`
	Profit         decimal.Decimal `json:"profit"`
}

// DealService reads month snapshots through a cache keyed by user and month
// and writes deals through the record store.
type DealService struct {
	store  store.DealStore
	gate   Gate
	cache  cache.Cache[core.MonthSnapshot]
	opts   Options
	logger *applog.Logger
	now    func() time.Time

	flight singleflight.Group

	// genMu orders cache writes against invalidation. gen counts
	// acknowledged mutations per user; keys lists the snapshot keys this
	// process cached per user.
	genMu sync.Mutex
	gen   map[string]uint64
	keys  map[string]map[string]struct{}
}

func NewDealService(st store.DealStore, gate Gate, c cache.Cache[core.MonthSnapshot], opts Options, logger *applog.Logger) *DealService {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &DealService{
		store:  st,
		gate:   gate,
		cache:  c,
		opts:   opts,
		logger: logger.WithComponent(applog.ComponentDeals),
		now:    time.Now,
		gen:    make(map[string]uint64),
		keys:   make(map[string]map[string]struct{}),
	}
}

// PreviewDeal computes both legs for the given inputs after clamping.
func PreviewDeal(in CreateInput) Preview {
	buyC := core.ClampPercent(in.BuyCommission)
	sellC := core.ClampPercent(in.SellCommission)
	buy := core.BuyTotal(in.USDT, buyC)
	sell := core.SellTotal(in.USDT, sellC)
	return Preview{
		USDT:           in.USDT,
		BuyCommission:  buyC,
		BuyAmount:      buy,
		SellCommission: sellC,
		SellAmount:     sell,
		Profit:         sell.Sub(buy),
	}
}

// CurrentMonth is the month of now in the configured location.
func (s *DealService) CurrentMonth() core.Month {
	return core.MonthOf(s.now().In(s.opts.Location))
}

// Now is the service clock in the configured location.
func (s *DealService) Now() time.Time {
	return s.now().In(s.opts.Location)
}

func cacheKey(userID string, m core.Month) string {
	return userID + ":" + m.String()
}

func (s *DealService) generation(userID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gen[userID]
}

// Month returns the snapshot of m for the signed-in user.
func (s *DealService) Month(ctx context.Context, m core.Month) (core.MonthSnapshot, error) {
	id, err := s.gate.Identity(ctx)
	if err != nil {
		return core.MonthSnapshot{}, err
	}
	return s.month(ctx, id.UserID, m)
}

func (s *DealService) month(ctx context.Context, userID string, m core.Month) (core.MonthSnapshot, error) {
	key := cacheKey(userID, m)
	if snap, ok := s.cache.Get(key); ok {
		return snap, nil
	}

	gen := s.generation(userID)
	// The shared read outlives any one caller; each caller still gives up
	// when its own context ends.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		q := store.ForMonth(userID, m, s.opts.Location)
		deals, err := withRetry(flightCtx, s.opts.ReadRetries, s.opts.RetryBase, s.opts.Timeout,
			func(ctx context.Context) ([]core.Deal, error) {
				return s.store.ListDeals(ctx, q)
			})
		if err != nil {
			return core.MonthSnapshot{}, err
		}
		snap := core.NewSnapshot(m, deals)
		s.cacheIfCurrent(userID, key, gen, snap)
		return snap, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return core.MonthSnapshot{}, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		s.logger.WarnContext(ctx, "Month query failed",
			applog.FieldUserID, userID, applog.FieldMonth, m.String(), applog.FieldError, res.Err)
		return core.MonthSnapshot{}, fmt.Errorf("list deals %s: %w", m, res.Err)
	}
	return res.Val.(core.MonthSnapshot), nil
}

// cacheIfCurrent caches snap unless a mutation of userID was acknowledged
// after gen was read.
func (s *DealService) cacheIfCurrent(userID, key string, gen uint64, snap core.MonthSnapshot) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gen[userID] != gen {
		return
	}
	s.cache.Set(key, snap)
	if s.keys[userID] == nil {
		s.keys[userID] = make(map[string]struct{})
	}
	s.keys[userID][key] = struct{}{}
}

// Months fetches several months concurrently; results keep the input order.
func (s *DealService) Months(ctx context.Context, months []core.Month) ([]core.MonthSnapshot, error) {
	id, err := s.gate.Identity(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.MonthSnapshot, len(months))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, m := range months {
		g.Go(func() error {
			snap, err := s.month(gctx, id.UserID, m)
			if err != nil {
				return err
			}
			out[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Create stores a new deal dated now, with amounts computed from the clamped
// commissions.
func (s *DealService) Create(ctx context.Context, in CreateInput) (core.Deal, error) {
	id, err := s.gate.Identity(ctx)
	if err != nil {
		return core.Deal{}, err
	}
	p := PreviewDeal(in)
	d := core.Deal{
		UserID:         id.UserID,
		DealDate:       s.now(),
		USDT:           p.USDT,
		BuyCommission:  p.BuyCommission,
		BuyAmount:      p.BuyAmount,
		SellCommission: p.SellCommission,
		SellAmount:     p.SellAmount,
	}
	if err := d.Validate(); err != nil {
		return core.Deal{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	dealID, err := s.store.InsertDeal(callCtx, d)
	if err != nil {
		return core.Deal{}, fmt.Errorf("insert deal: %w", err)
	}
	d.ID = dealID
	s.ForgetUser(id.UserID)

	s.logger.InfoContext(ctx, "Deal created",
		applog.NewFields().
			WithDeal(d.ID, d.UserID, d.USDT.String(), d.BuyAmount.String(), d.SellAmount.String()).
			WithOperation(applog.OpCreate).
			ToSlice()...)
	return d, nil
}

// Update applies a partial edit. Commissions are clamped. When usdt or a
// commission changes and an amount is not sent, that amount is recomputed.
func (s *DealService) Update(ctx context.Context, dealID string, in UpdateInput) (core.Deal, error) {
	id, err := s.gate.Identity(ctx)
	if err != nil {
		return core.Deal{}, err
	}
	current, err := withRetry(ctx, s.opts.ReadRetries, s.opts.RetryBase, s.opts.Timeout,
		func(ctx context.Context) (core.Deal, error) {
			return s.store.GetDeal(ctx, id.UserID, dealID)
		})
	if err != nil {
		return core.Deal{}, fmt.Errorf("get deal: %w", err)
	}

	patch := buildPatch(current, in)
	if patch.IsEmpty() {
		return current, nil
	}
	updated := patch.Apply(current)
	if err := updated.Validate(); err != nil {
		return core.Deal{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	if err := s.store.UpdateDeal(callCtx, id.UserID, dealID, patch); err != nil {
		return core.Deal{}, fmt.Errorf("update deal: %w", err)
	}
	s.ForgetUser(id.UserID)

	s.logger.InfoContext(ctx, "Deal updated",
		applog.NewFields().
			WithDeal(updated.ID, updated.UserID, updated.USDT.String(), updated.BuyAmount.String(), updated.SellAmount.String()).
			WithOperation(applog.OpUpdate).
			ToSlice()...)
	return updated, nil
}

func buildPatch(current core.Deal, in UpdateInput) store.DealPatch {
	var p store.DealPatch
	clamp := func(v *decimal.Decimal) *decimal.Decimal {
		if v == nil {
			return nil
		}
		c := core.ClampPercent(*v)
		return &c
	}
	p.USDT = in.USDT
	p.BuyCommission = clamp(in.BuyCommission)
	p.SellCommission = clamp(in.SellCommission)
	p.BuyAmount = in.BuyAmount
	p.SellAmount = in.SellAmount

	merged := p.Apply(current)
	usdtChanged := p.USDT != nil && !p.USDT.Equal(current.USDT)
	buyChanged := p.BuyCommission != nil && !p.BuyCommission.Equal(current.BuyCommission)
	sellChanged := p.SellCommission != nil && !p.SellCommission.Equal(current.SellCommission)

	if p.BuyAmount == nil && (usdtChanged || buyChanged) {
		v := core.BuyTotal(merged.USDT, merged.BuyCommission)
		p.BuyAmount = &v
	}
	if p.SellAmount == nil && (usdtChanged || sellChanged) {
		v := core.SellTotal(merged.USDT, merged.SellCommission)
		p.SellAmount = &v
	}
	return p
}

func (s *DealService) Delete(ctx context.Context, dealID string) error {
	id, err := s.gate.Identity(ctx)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	if err := s.store.DeleteDeal(callCtx, id.UserID, dealID); err != nil {
		return fmt.Errorf("delete deal: %w", err)
	}
	s.ForgetUser(id.UserID)

	s.logger.InfoContext(ctx, "Deal deleted",
		applog.FieldDealID, dealID, applog.FieldUserID, id.UserID, applog.FieldOperation, applog.OpDelete)
	return nil
}

// ForgetUser drops every cached month of userID. It is called after each
// acknowledged mutation and when a session leaves that user. When the prefix
// sweep fails, the keys this process cached are deleted one by one.
func (s *DealService) ForgetUser(userID string) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.gen[userID]++
	n, err := s.cache.DeletePrefix(userID + ":")
	if err != nil {
		for key := range s.keys[userID] {
			s.cache.Delete(key)
		}
		s.logger.Warn("Cache sweep failed, dropped known months instead",
			applog.FieldUserID, userID, "count", len(s.keys[userID]), applog.FieldError, err)
	} else {
		s.logger.Debug("Cached months dropped", applog.FieldUserID, userID, "count", n)
	}
	delete(s.keys, userID)
}
