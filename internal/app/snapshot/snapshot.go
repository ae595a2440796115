// Package snapshot persists the outbound and signature cache state so both
// caches survive a restart.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/R3E-Network/oracle_layer/internal/app/outcall"
	"github.com/R3E-Network/oracle_layer/internal/app/signing"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

// State is the persisted form of both caches.
type State struct {
	Outcall    outcall.State `json:"outcall"`
	Signatures signing.State `json:"signatures"`
	SavedAt    time.Time     `json:"saved_at"`
}

// Store saves and loads a single State.
type Store interface {
	Save(ctx context.Context, st State) error
	Load(ctx context.Context) (State, error)
	Close() error
}

func encode(st State) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func decode(data []byte) (State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return st, nil
}
