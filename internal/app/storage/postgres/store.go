package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/oracle_layer/internal/app/domain/balance"
	"github.com/R3E-Network/oracle_layer/internal/app/domain/feed"
	"github.com/R3E-Network/oracle_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.FeedStore = (*Store)(nil)
var _ storage.BalanceStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

const uniqueViolation = "23505"

func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return fmt.Errorf("%s: %w", what, storage.ErrAlreadyExists)
	}
	return err
}

// --- FeedStore --------------------------------------------------------------

type feedRow struct {
	ID              string        `db:"id"`
	Kind            string        `db:"kind"`
	UpdateFreq      int64         `db:"update_freq_seconds"`
	Decimals        sql.NullInt64 `db:"decimals"`
	Owner           string        `db:"owner"`
	Sources         []byte        `db:"sources"`
	LastAnswer      []byte        `db:"last_answer"`
	LastUpdate      sql.NullTime  `db:"last_update"`
	UpdatedCounter  int64         `db:"updated_counter"`
	RequestsCounter int64         `db:"requests_counter"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
}

const feedColumns = `id, kind, update_freq_seconds, decimals, owner, sources, last_answer, last_update, updated_counter, requests_counter, created_at, updated_at`

func (r feedRow) toFeed() (feed.Feed, error) {
	f := feed.Feed{
		ID:         r.ID,
		Kind:       feed.Kind(r.Kind),
		UpdateFreq: time.Duration(r.UpdateFreq) * time.Second,
		Owner:      r.Owner,
		Status: feed.Status{
			UpdatedCounter:  uint64(r.UpdatedCounter),
			RequestsCounter: uint64(r.RequestsCounter),
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Decimals.Valid {
		d := uint64(r.Decimals.Int64)
		f.Decimals = &d
	}
	if r.LastUpdate.Valid {
		f.Status.LastUpdate = r.LastUpdate.Time
	}
	if len(r.Sources) > 0 {
		if err := json.Unmarshal(r.Sources, &f.Sources); err != nil {
			return feed.Feed{}, fmt.Errorf("decode sources of %s: %w", r.ID, err)
		}
		if len(f.Sources) == 0 {
			f.Sources = nil
		}
	}
	if len(r.LastAnswer) > 0 {
		var a feed.Answer
		if err := json.Unmarshal(r.LastAnswer, &a); err != nil {
			return feed.Feed{}, fmt.Errorf("decode last answer of %s: %w", r.ID, err)
		}
		f.LastAnswer = &a
	}
	return f, nil
}

func feedArgs(f feed.Feed) (sql.NullInt64, []byte, error) {
	var decimals sql.NullInt64
	if f.Decimals != nil {
		decimals = sql.NullInt64{Int64: int64(*f.Decimals), Valid: true}
	}
	sources := f.Sources
	if sources == nil {
		sources = []feed.Source{}
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return decimals, nil, err
	}
	return decimals, raw, nil
}

func (s *Store) CreateFeed(ctx context.Context, f feed.Feed) (feed.Feed, error) {
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	decimals, sources, err := feedArgs(f)
	if err != nil {
		return feed.Feed{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oracle_feeds (id, kind, update_freq_seconds, decimals, owner, sources, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, f.ID, string(f.Kind), int64(f.UpdateFreq/time.Second), decimals, f.Owner, sources, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return feed.Feed{}, mapError(err, "feed "+f.ID)
	}
	return f, nil
}

func (s *Store) UpdateFeed(ctx context.Context, f feed.Feed) (feed.Feed, error) {
	existing, err := s.GetFeed(ctx, f.ID)
	if err != nil {
		return feed.Feed{}, err
	}
	f.CreatedAt = existing.CreatedAt
	f.UpdatedAt = time.Now().UTC()

	decimals, sources, err := feedArgs(f)
	if err != nil {
		return feed.Feed{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE oracle_feeds
		SET kind = $2, update_freq_seconds = $3, decimals = $4, owner = $5, sources = $6, updated_at = $7
		WHERE id = $1
	`, f.ID, string(f.Kind), int64(f.UpdateFreq/time.Second), decimals, f.Owner, sources, f.UpdatedAt)
	if err != nil {
		return feed.Feed{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return feed.Feed{}, mapError(sql.ErrNoRows, "feed "+f.ID)
	}
	return f, nil
}

func (s *Store) GetFeed(ctx context.Context, id string) (feed.Feed, error) {
	var row feedRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+feedColumns+` FROM oracle_feeds WHERE id = $1`, id); err != nil {
		return feed.Feed{}, mapError(err, "feed "+id)
	}
	return row.toFeed()
}

func (s *Store) ListFeeds(ctx context.Context, filter feed.Filter) ([]feed.Feed, error) {
	var rows []feedRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+feedColumns+`
		FROM oracle_feeds
		WHERE ($1 = '' OR kind = $1) AND ($2 = '' OR lower(owner) = lower($2))
		ORDER BY id
	`, string(filter.Kind), strings.TrimSpace(filter.Owner))
	if err != nil {
		return nil, err
	}

	result := make([]feed.Feed, 0, len(rows))
	for _, row := range rows {
		f, err := row.toFeed()
		if err != nil {
			return nil, err
		}
		// search spans source URIs inside jsonb, so it is applied here
		if filter.Match(f) {
			result = append(result, f)
		}
	}
	return result, nil
}

func (s *Store) DeleteFeed(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM oracle_feeds WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return mapError(sql.ErrNoRows, "feed "+id)
	}
	return nil
}

func (s *Store) RecordAnswer(ctx context.Context, id string, answer *feed.Answer, at time.Time) error {
	var (
		result sql.Result
		err    error
	)
	if answer == nil {
		result, err = s.db.ExecContext(ctx, `
			UPDATE oracle_feeds SET requests_counter = requests_counter + 1 WHERE id = $1
		`, id)
	} else {
		raw, marshalErr := json.Marshal(answer)
		if marshalErr != nil {
			return marshalErr
		}
		result, err = s.db.ExecContext(ctx, `
			UPDATE oracle_feeds
			SET requests_counter = requests_counter + 1,
			    updated_counter = updated_counter + 1,
			    last_answer = $2,
			    last_update = $3
			WHERE id = $1
		`, id, raw, at.UTC())
	}
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return mapError(sql.ErrNoRows, "feed "+id)
	}
	return nil
}

// --- BalanceStore -----------------------------------------------------------

type balanceRow struct {
	Address   string    `db:"address"`
	Amount    int64     `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r balanceRow) toAccount() balance.Account {
	return balance.Account{Address: r.Address, Amount: uint64(r.Amount), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

type transactionRow struct {
	ID        string    `db:"id"`
	Address   string    `db:"address"`
	Direction string    `db:"direction"`
	Amount    int64     `db:"amount"`
	Reference string    `db:"reference"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) GetBalance(ctx context.Context, address string) (balance.Account, error) {
	var row balanceRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT address, amount, created_at, updated_at FROM oracle_balances WHERE address = $1
	`, address); err != nil {
		return balance.Account{}, mapError(err, "balance "+address)
	}
	return row.toAccount(), nil
}

func (s *Store) ApplyTransaction(ctx context.Context, tx balance.Transaction) (balance.Account, error) {
	accts, err := s.ApplyTransactions(ctx, []balance.Transaction{tx})
	if err != nil {
		return balance.Account{}, err
	}
	return accts[0], nil
}

func (s *Store) ApplyTransactions(ctx context.Context, txs []balance.Transaction) (accts []balance.Account, err error) {
	dbTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = dbTx.Rollback()
		}
	}()

	accts = make([]balance.Account, 0, len(txs))
	for _, tx := range txs {
		var acct balance.Account
		acct, err = applyTransaction(ctx, dbTx, tx)
		if err != nil {
			return nil, err
		}
		accts = append(accts, acct)
	}

	if err = dbTx.Commit(); err != nil {
		return nil, err
	}
	return accts, nil
}

func applyTransaction(ctx context.Context, dbTx *sqlx.Tx, tx balance.Transaction) (balance.Account, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	if _, err := dbTx.ExecContext(ctx, `
		INSERT INTO oracle_balances (address, amount, created_at, updated_at)
		VALUES ($1, 0, $2, $2)
		ON CONFLICT (address) DO NOTHING
	`, tx.Address, tx.CreatedAt); err != nil {
		return balance.Account{}, err
	}

	var (
		row balanceRow
		err error
	)
	switch tx.Direction {
	case balance.DirectionCredit:
		err = dbTx.GetContext(ctx, &row, `
			UPDATE oracle_balances SET amount = amount + $2, updated_at = $3
			WHERE address = $1
			RETURNING address, amount, created_at, updated_at
		`, tx.Address, int64(tx.Amount), tx.CreatedAt)
	case balance.DirectionDebit:
		err = dbTx.GetContext(ctx, &row, `
			UPDATE oracle_balances SET amount = amount - $2, updated_at = $3
			WHERE address = $1 AND amount >= $2
			RETURNING address, amount, created_at, updated_at
		`, tx.Address, int64(tx.Amount), tx.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("debit %d from %s: %w", tx.Amount, tx.Address, storage.ErrInsufficientFunds)
		}
	default:
		err = fmt.Errorf("unknown direction %q", tx.Direction)
	}
	if err != nil {
		return balance.Account{}, err
	}

	if _, err := dbTx.ExecContext(ctx, `
		INSERT INTO oracle_balance_transactions (id, address, direction, amount, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, tx.ID, tx.Address, string(tx.Direction), int64(tx.Amount), tx.Reference, tx.CreatedAt); err != nil {
		return balance.Account{}, err
	}
	return row.toAccount(), nil
}

func (s *Store) ListTransactions(ctx context.Context, address string, limit int) ([]balance.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, address, direction, amount, reference, created_at
		FROM oracle_balance_transactions
		WHERE address = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, address, limit); err != nil {
		return nil, err
	}
	result := make([]balance.Transaction, 0, len(rows))
	for _, r := range rows {
		result = append(result, balance.Transaction{
			ID:        r.ID,
			Address:   r.Address,
			Direction: balance.Direction(r.Direction),
			Amount:    uint64(r.Amount),
			Reference: r.Reference,
			CreatedAt: r.CreatedAt,
		})
	}
	return result, nil
}
