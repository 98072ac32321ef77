package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// DealRow mirrors the deals table; decimals are kept as their stored text.
type DealRow struct {
	ID             string
	UserID         string
	DealDate       int64
	Usdt           string
	BuyCommission  string
	BuyAmount      string
	SellCommission string
	SellAmount     string
	CreatedAt      int64
	UpdatedAt      int64
}

type UserRow struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    int64
}

const dealColumns = `id, user_id, deal_date, usdt, buy_commission, buy_amount, sell_commission, sell_amount, created_at, updated_at`

func scanDeal(row interface{ Scan(...interface{}) error }) (DealRow, error) {
	var i DealRow
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.DealDate,
		&i.Usdt,
		&i.BuyCommission,
		&i.BuyAmount,
		&i.SellCommission,
		&i.SellAmount,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createDeal = `INSERT INTO deals (` + dealColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateDeal(ctx context.Context, arg DealRow) error {
	_, err := q.db.ExecContext(ctx, createDeal,
		arg.ID,
		arg.UserID,
		arg.DealDate,
		arg.Usdt,
		arg.BuyCommission,
		arg.BuyAmount,
		arg.SellCommission,
		arg.SellAmount,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const getDeal = `SELECT ` + dealColumns + ` FROM deals WHERE id = ? AND user_id = ?`

func (q *Queries) GetDeal(ctx context.Context, id, userID string) (DealRow, error) {
	return scanDeal(q.db.QueryRowContext(ctx, getDeal, id, userID))
}

const getDealByID = `SELECT ` + dealColumns + ` FROM deals WHERE id = ?`

func (q *Queries) GetDealByID(ctx context.Context, id string) (DealRow, error) {
	return scanDeal(q.db.QueryRowContext(ctx, getDealByID, id))
}

const listDealsInRange = `SELECT ` + dealColumns + ` FROM deals
WHERE user_id = ? AND deal_date >= ? AND deal_date < ?
ORDER BY deal_date DESC, id DESC`

type ListDealsInRangeParams struct {
	UserID string
	From   int64
	To     int64
}

func (q *Queries) ListDealsInRange(ctx context.Context, arg ListDealsInRangeParams) ([]DealRow, error) {
	rows, err := q.db.QueryContext(ctx, listDealsInRange, arg.UserID, arg.From, arg.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []DealRow{}
	for rows.Next() {
		i, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateDeal = `UPDATE deals
SET usdt = ?, buy_commission = ?, buy_amount = ?, sell_commission = ?, sell_amount = ?, updated_at = ?
WHERE id = ? AND user_id = ?`

func (q *Queries) UpdateDeal(ctx context.Context, arg DealRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateDeal,
		arg.Usdt,
		arg.BuyCommission,
		arg.BuyAmount,
		arg.SellCommission,
		arg.SellAmount,
		arg.UpdatedAt,
		arg.ID,
		arg.UserID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteDeal = `DELETE FROM deals WHERE id = ? AND user_id = ?`

func (q *Queries) DeleteDeal(ctx context.Context, id, userID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteDeal, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const createUser = `INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`

func (q *Queries) CreateUser(ctx context.Context, arg UserRow) error {
	_, err := q.db.ExecContext(ctx, createUser, arg.ID, arg.Email, arg.PasswordHash, arg.CreatedAt)
	return err
}

const getUserByEmail = `SELECT id, email, password_hash, created_at FROM users WHERE email = ?`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (UserRow, error) {
	var i UserRow
	err := q.db.QueryRowContext(ctx, getUserByEmail, email).Scan(&i.ID, &i.Email, &i.PasswordHash, &i.CreatedAt)
	return i, err
}

const getUserByID = `SELECT id, email, password_hash, created_at FROM users WHERE id = ?`

func (q *Queries) GetUserByID(ctx context.Context, id string) (UserRow, error) {
	var i UserRow
	err := q.db.QueryRowContext(ctx, getUserByID, id).Scan(&i.ID, &i.Email, &i.PasswordHash, &i.CreatedAt)
	return i, err
}

const updatePasswordHash = `UPDATE users SET password_hash = ? WHERE id = ?`

func (q *Queries) UpdatePasswordHash(ctx context.Context, id, hash string) (int64, error) {
	res, err := q.db.ExecContext(ctx, updatePasswordHash, hash, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const createRecoveryToken = `INSERT INTO recovery_tokens (token_hash, user_id, expires_at) VALUES (?, ?, ?)`

func (q *Queries) CreateRecoveryToken(ctx context.Context, tokenHash, userID string, expiresAt int64) error {
	_, err := q.db.ExecContext(ctx, createRecoveryToken, tokenHash, userID, expiresAt)
	return err
}

const consumeRecoveryToken = `UPDATE recovery_tokens SET used_at = ?
WHERE token_hash = ? AND used_at IS NULL AND expires_at > ?
RETURNING user_id`

func (q *Queries) ConsumeRecoveryToken(ctx context.Context, tokenHash string, now int64) (string, error) {
	var userID string
	err := q.db.QueryRowContext(ctx, consumeRecoveryToken, now, tokenHash, now).Scan(&userID)
	return userID, err
}
