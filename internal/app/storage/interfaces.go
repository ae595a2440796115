package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/oracle_layer/internal/app/domain/balance"
	"github.com/R3E-Network/oracle_layer/internal/app/domain/feed"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating a record whose key is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// FeedStore persists feed definitions and their observability fields.
type FeedStore interface {
	CreateFeed(ctx context.Context, f feed.Feed) (feed.Feed, error)
	UpdateFeed(ctx context.Context, f feed.Feed) (feed.Feed, error)
	GetFeed(ctx context.Context, id string) (feed.Feed, error)
	ListFeeds(ctx context.Context, filter feed.Filter) ([]feed.Feed, error)
	DeleteFeed(ctx context.Context, id string) error
	// RecordAnswer bumps the request counter and, when answer is non-nil,
	// stores it as the last answer.
	RecordAnswer(ctx context.Context, id string, answer *feed.Answer, at time.Time) error
}

// BalanceStore persists ledger accounts and movements.
type BalanceStore interface {
	GetBalance(ctx context.Context, address string) (balance.Account, error)
	// ApplyTransaction atomically moves the balance and records tx. Debits
	// that exceed the balance fail with ErrInsufficientFunds and change nothing.
	ApplyTransaction(ctx context.Context, tx balance.Transaction) (balance.Account, error)
	// ApplyTransactions applies txs in order as one unit. If any movement
	// fails, none of them is recorded.
	ApplyTransactions(ctx context.Context, txs []balance.Transaction) ([]balance.Account, error)
	ListTransactions(ctx context.Context, address string, limit int) ([]balance.Transaction, error)
}
