package balances

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/R3E-Network/oracle_layer/internal/app/domain/balance"
	"github.com/R3E-Network/oracle_layer/internal/app/metrics"
	"github.com/R3E-Network/oracle_layer/internal/app/storage"
	"github.com/R3E-Network/oracle_layer/pkg/logger"
)

var (
	// ErrInsufficientBalance is returned when an address cannot cover a charge.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidAmount is returned for zero-amount movements.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidAddress is returned for blank addresses.
	ErrInvalidAddress = errors.New("address is required")
)

// Service manages per-address balances used to pay for custom feed fetches.
type Service struct {
	store storage.BalanceStore
	log   *logger.Logger
}

// New constructs a balance service.
func New(store storage.BalanceStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("balances")
	}
	return &Service{store: store, log: log}
}

func normalizeAddress(address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return "", ErrInvalidAddress
	}
	return address, nil
}

// GetBalance returns the account for address. Unknown addresses hold zero.
func (s *Service) GetBalance(ctx context.Context, address string) (balance.Account, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return balance.Account{}, err
	}
	acct, err := s.store.GetBalance(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return balance.Account{Address: address}, nil
	}
	return acct, err
}

// IsSufficient reports whether address holds at least amount.
func (s *Service) IsSufficient(ctx context.Context, address string, amount uint64) (bool, error) {
	acct, err := s.GetBalance(ctx, address)
	if err != nil {
		return false, err
	}
	return acct.Amount >= amount, nil
}

// Debit removes amount from address. A debit larger than the balance fails
// with ErrInsufficientBalance and leaves the balance untouched. A zero debit
// is a no-op.
func (s *Service) Debit(ctx context.Context, address string, amount uint64, reference string) (balance.Account, error) {
	if amount == 0 {
		return s.GetBalance(ctx, address)
	}
	acct, err := s.apply(ctx, address, balance.DirectionDebit, amount, reference)
	if errors.Is(err, storage.ErrInsufficientFunds) {
		return balance.Account{}, fmt.Errorf("%w: %s needs %d", ErrInsufficientBalance, address, amount)
	}
	return acct, err
}

// Credit adds amount to address, creating the account if needed.
func (s *Service) Credit(ctx context.Context, address string, amount uint64, reference string) (balance.Account, error) {
	if amount == 0 {
		return balance.Account{}, ErrInvalidAmount
	}
	return s.apply(ctx, address, balance.DirectionCredit, amount, reference)
}

// Transfer moves amount from one address to another as a single ledger
// operation. Either both legs are recorded or neither is.
func (s *Service) Transfer(ctx context.Context, from, to string, amount uint64, reference string) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	from, err := normalizeAddress(from)
	if err != nil {
		return err
	}
	to, err = normalizeAddress(to)
	if err != nil {
		return err
	}

	_, err = s.store.ApplyTransactions(ctx, []balance.Transaction{
		{ID: uuid.NewString(), Address: from, Direction: balance.DirectionDebit, Amount: amount, Reference: reference},
		{ID: uuid.NewString(), Address: to, Direction: balance.DirectionCredit, Amount: amount, Reference: reference},
	})
	if errors.Is(err, storage.ErrInsufficientFunds) {
		return fmt.Errorf("%w: %s needs %d", ErrInsufficientBalance, from, amount)
	}
	if err != nil {
		return err
	}
	metrics.AddFeeCharged(amount)
	s.log.WithField("from", from).
		WithField("to", to).
		WithField("amount", amount).
		Debug("balance transferred")
	return nil
}

// Transactions lists recent movements for address, newest first.
func (s *Service) Transactions(ctx context.Context, address string, limit int) ([]balance.Transaction, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, address, limit)
}

func (s *Service) apply(ctx context.Context, address string, dir balance.Direction, amount uint64, reference string) (balance.Account, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return balance.Account{}, err
	}
	acct, err := s.store.ApplyTransaction(ctx, balance.Transaction{
		ID:        uuid.NewString(),
		Address:   address,
		Direction: dir,
		Amount:    amount,
		Reference: reference,
	})
	if err != nil {
		return balance.Account{}, err
	}
	if dir == balance.DirectionDebit {
		metrics.AddFeeCharged(amount)
	}
	s.log.WithField("address", address).
		WithField("direction", dir).
		WithField("amount", amount).
		Debug("balance updated")
	return acct, nil
}
