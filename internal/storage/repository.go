package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"dealbook/internal/core"
	applog "dealbook/internal/log"
	"dealbook/internal/session"
	"dealbook/internal/store"

	_ "modernc.org/sqlite"
)

// SQLiteRepository implements store.DealStore and session.UserStore.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	logger  *applog.Logger
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string, logger *applog.Logger) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// sqlite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo := &SQLiteRepository{
		db:      db,
		queries: New(db),
		logger:  logger.WithComponent(applog.ComponentStorage),
		now:     time.Now,
	}
	if v, dirty, err := MigrationVersion(dbPath); err != nil {
		repo.logger.Warn("Could not read schema version", applog.FieldError, err)
	} else {
		repo.logger.Info("SQLite database ready", "path", dbPath, "schema_version", v, "dirty", dirty)
	}
	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping is used by the readiness probe.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) ListDeals(ctx context.Context, q store.DealQuery) ([]core.Deal, error) {
	rows, err := r.queries.ListDealsInRange(ctx, ListDealsInRangeParams{
		UserID: q.UserID,
		From:   q.From.UnixMilli(),
		To:     q.To.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	deals := make([]core.Deal, len(rows))
	for i, row := range rows {
		deals[i] = row.toDeal()
	}
	return deals, nil
}

func (r *SQLiteRepository) GetDeal(ctx context.Context, userID, id string) (core.Deal, error) {
	row, err := r.queries.GetDeal(ctx, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Deal{}, store.ErrNotFound
	}
	if err != nil {
		return core.Deal{}, fmt.Errorf("get deal: %w", err)
	}
	return row.toDeal(), nil
}

// DealByID loads a deal regardless of owner; the sheet mirror worker uses it.
func (r *SQLiteRepository) DealByID(ctx context.Context, id string) (core.Deal, error) {
	row, err := r.queries.GetDealByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Deal{}, store.ErrNotFound
	}
	if err != nil {
		return core.Deal{}, fmt.Errorf("get deal by id: %w", err)
	}
	return row.toDeal(), nil
}

func (r *SQLiteRepository) InsertDeal(ctx context.Context, d core.Deal) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	d.ID = uuid.NewString()
	now := r.now().UnixMilli()
	row := fromDeal(d)
	row.CreatedAt, row.UpdatedAt = now, now
	if err := r.queries.CreateDeal(ctx, row); err != nil {
		return "", fmt.Errorf("create deal: %w", err)
	}

	r.logger.InfoContext(ctx, "Deal saved to SQLite",
		applog.NewFields().
			WithDeal(d.ID, d.UserID, d.USDT.String(), d.BuyAmount.String(), d.SellAmount.String()).
			ToSlice()...)
	return d.ID, nil
}

// UpdateDeal reads, patches and writes in one transaction.
func (r *SQLiteRepository) UpdateDeal(ctx context.Context, userID, id string, patch store.DealPatch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	row, err := q.GetDeal(ctx, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get deal: %w", err)
	}

	updated := patch.Apply(row.toDeal())
	if err := updated.Validate(); err != nil {
		return err
	}
	next := fromDeal(updated)
	next.UpdatedAt = r.now().UnixMilli()
	n, err := q.UpdateDeal(ctx, next)
	if err != nil {
		return fmt.Errorf("update deal: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}

	r.logger.DebugContext(ctx, "Deal updated", applog.FieldDealID, id, applog.FieldUserID, userID)
	return nil
}

func (r *SQLiteRepository) DeleteDeal(ctx context.Context, userID, id string) error {
	n, err := r.queries.DeleteDeal(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("delete deal: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	r.logger.DebugContext(ctx, "Deal deleted", applog.FieldDealID, id, applog.FieldUserID, userID)
	return nil
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u session.User) error {
	err := r.queries.CreateUser(ctx, UserRow{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt.UnixMilli(),
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return session.ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UserByEmail(ctx context.Context, email string) (session.User, error) {
	row, err := r.queries.GetUserByEmail(ctx, email)
	return userFromRow(row, err)
}

func (r *SQLiteRepository) UserByID(ctx context.Context, id string) (session.User, error) {
	row, err := r.queries.GetUserByID(ctx, id)
	return userFromRow(row, err)
}

func (r *SQLiteRepository) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	n, err := r.queries.UpdatePasswordHash(ctx, userID, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n == 0 {
		return session.ErrUserNotFound
	}
	return nil
}

func (r *SQLiteRepository) SaveRecoveryToken(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if err := r.queries.CreateRecoveryToken(ctx, tokenHash, userID, expiresAt.UnixMilli()); err != nil {
		return fmt.Errorf("save recovery token: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ConsumeRecoveryToken(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	userID, err := r.queries.ConsumeRecoveryToken(ctx, tokenHash, now.UnixMilli())
	if errors.Is(err, sql.ErrNoRows) {
		return "", session.ErrInvalidRecoveryToken
	}
	if err != nil {
		return "", fmt.Errorf("consume recovery token: %w", err)
	}
	return userID, nil
}

func userFromRow(row UserRow, err error) (session.User, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return session.User{}, session.ErrUserNotFound
	}
	if err != nil {
		return session.User{}, fmt.Errorf("get user: %w", err)
	}
	return session.User{
		ID:           row.ID,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		CreatedAt:    time.UnixMilli(row.CreatedAt),
	}, nil
}

func (row DealRow) toDeal() core.Deal {
	return core.Deal{
		ID:             row.ID,
		UserID:         row.UserID,
		DealDate:       time.UnixMilli(row.DealDate),
		USDT:           core.Coerce(row.Usdt),
		BuyCommission:  core.Coerce(row.BuyCommission),
		BuyAmount:      core.Coerce(row.BuyAmount),
		SellCommission: core.Coerce(row.SellCommission),
		SellAmount:     core.Coerce(row.SellAmount),
	}
}

func fromDeal(d core.Deal) DealRow {
	return DealRow{
		ID:             d.ID,
		UserID:         d.UserID,
		DealDate:       d.DealDate.UnixMilli(),
		Usdt:           d.USDT.String(),
		BuyCommission:  d.BuyCommission.String(),
		BuyAmount:      d.BuyAmount.String(),
		SellCommission: d.SellCommission.String(),
		SellAmount:     d.SellAmount.String(),
	}
}
