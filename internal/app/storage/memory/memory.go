package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/oracle_layer/internal/app/domain/balance"
	"github.com/R3E-Network/oracle_layer/internal/app/domain/feed"
	"github.com/R3E-Network/oracle_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu           sync.RWMutex
	nextID       int64
	feeds        map[string]feed.Feed
	balances     map[string]balance.Account
	transactions map[string][]balance.Transaction
}

var _ storage.FeedStore = (*Store)(nil)
var _ storage.BalanceStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:       1,
		feeds:        make(map[string]feed.Feed),
		balances:     make(map[string]balance.Account),
		transactions: make(map[string][]balance.Transaction),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// FeedStore implementation ----------------------------------------------------

func (s *Store) CreateFeed(_ context.Context, f feed.Feed) (feed.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		return feed.Feed{}, fmt.Errorf("feed id is required")
	}
	if _, exists := s.feeds[f.ID]; exists {
		return feed.Feed{}, fmt.Errorf("feed %s: %w", f.ID, storage.ErrAlreadyExists)
	}

	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	s.feeds[f.ID] = f.Clone()
	return f, nil
}

func (s *Store) UpdateFeed(_ context.Context, f feed.Feed) (feed.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.feeds[f.ID]
	if !ok {
		return feed.Feed{}, fmt.Errorf("feed %s: %w", f.ID, storage.ErrNotFound)
	}

	f.CreatedAt = original.CreatedAt
	f.UpdatedAt = time.Now().UTC()

	s.feeds[f.ID] = f.Clone()
	return f, nil
}

func (s *Store) GetFeed(_ context.Context, id string) (feed.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.feeds[id]
	if !ok {
		return feed.Feed{}, fmt.Errorf("feed %s: %w", id, storage.ErrNotFound)
	}
	return f.Clone(), nil
}

func (s *Store) ListFeeds(_ context.Context, filter feed.Filter) ([]feed.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]feed.Feed, 0)
	for _, f := range s.feeds {
		if filter.Match(f) {
			result = append(result, f.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) DeleteFeed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.feeds[id]; !ok {
		return fmt.Errorf("feed %s: %w", id, storage.ErrNotFound)
	}
	delete(s.feeds, id)
	return nil
}

func (s *Store) RecordAnswer(_ context.Context, id string, answer *feed.Answer, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.feeds[id]
	if !ok {
		return fmt.Errorf("feed %s: %w", id, storage.ErrNotFound)
	}
	f.Status.RequestsCounter++
	if answer != nil {
		a := *answer
		f.LastAnswer = &a
		f.Status.UpdatedCounter++
		f.Status.LastUpdate = at.UTC()
	}
	s.feeds[id] = f
	return nil
}

// BalanceStore implementation -------------------------------------------------

func (s *Store) GetBalance(_ context.Context, address string) (balance.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.balances[address]
	if !ok {
		return balance.Account{}, fmt.Errorf("balance %s: %w", address, storage.ErrNotFound)
	}
	return acct, nil
}

func (s *Store) ApplyTransaction(ctx context.Context, tx balance.Transaction) (balance.Account, error) {
	accts, err := s.ApplyTransactions(ctx, []balance.Transaction{tx})
	if err != nil {
		return balance.Account{}, err
	}
	return accts[0], nil
}

func (s *Store) ApplyTransactions(_ context.Context, txs []balance.Transaction) ([]balance.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	staged := make(map[string]balance.Account, len(txs))
	recorded := make([]balance.Transaction, 0, len(txs))
	result := make([]balance.Account, 0, len(txs))
	for _, tx := range txs {
		acct, ok := staged[tx.Address]
		if !ok {
			acct, ok = s.balances[tx.Address]
		}
		if !ok {
			acct = balance.Account{Address: tx.Address, CreatedAt: now}
		}

		switch tx.Direction {
		case balance.DirectionCredit:
			acct.Amount += tx.Amount
		case balance.DirectionDebit:
			if acct.Amount < tx.Amount {
				return nil, fmt.Errorf("debit %d from %s: %w", tx.Amount, tx.Address, storage.ErrInsufficientFunds)
			}
			acct.Amount -= tx.Amount
		default:
			return nil, fmt.Errorf("unknown direction %q", tx.Direction)
		}
		acct.UpdatedAt = now
		staged[tx.Address] = acct

		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = now
		}
		recorded = append(recorded, tx)
		result = append(result, acct)
	}

	for addr, acct := range staged {
		s.balances[addr] = acct
	}
	for _, tx := range recorded {
		if tx.ID == "" {
			tx.ID = s.nextIDLocked()
		}
		s.transactions[tx.Address] = append(s.transactions[tx.Address], tx)
	}
	return result, nil
}

func (s *Store) ListTransactions(_ context.Context, address string, limit int) ([]balance.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := s.transactions[address]
	result := make([]balance.Transaction, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, txs[i])
	}
	return result, nil
}
