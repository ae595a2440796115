package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/oracle_layer/internal/app/outcall"
	"github.com/R3E-Network/oracle_layer/internal/app/signing"
	"github.com/R3E-Network/oracle_layer/internal/app/system"
	"github.com/R3E-Network/oracle_layer/pkg/logger"
)

// OutcallCache is the exportable outbound cache.
type OutcallCache interface {
	Export() outcall.State
	Restore(outcall.State)
}

// SignatureCache is the exportable signature cache.
type SignatureCache interface {
	Export() signing.State
	Restore(signing.State)
}

// Saver restores both caches on start, saves them on a cron schedule and
// once more on stop.
type Saver struct {
	store      Store
	outcalls   OutcallCache
	signatures SignatureCache
	schedule   string
	log        *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*Saver)(nil)

// NewSaver creates a saver. An empty schedule defaults to every five minutes.
func NewSaver(store Store, outcalls OutcallCache, signatures SignatureCache, schedule string, log *logger.Logger) *Saver {
	if log == nil {
		log = logger.NewDefault("snapshot")
	}
	if schedule == "" {
		schedule = "@every 5m"
	}
	return &Saver{store: store, outcalls: outcalls, signatures: signatures, schedule: schedule, log: log}
}

func (s *Saver) Name() string { return "cache-snapshot" }

func (s *Saver) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if err := s.Restore(ctx); err != nil {
		return err
	}

	sched := cron.New()
	if _, err := sched.AddFunc(s.schedule, func() {
		if err := s.Save(context.Background()); err != nil {
			s.log.WithError(err).Warn("periodic snapshot failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule snapshot %q: %w", s.schedule, err)
	}
	sched.Start()
	s.cron = sched
	s.running = true

	s.log.WithField("schedule", s.schedule).Info("cache snapshots enabled")
	return nil
}

func (s *Saver) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	sched := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	select {
	case <-sched.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Save(ctx)
}

// Save writes the current state of both caches.
func (s *Saver) Save(ctx context.Context) error {
	st := State{
		Outcall:    s.outcalls.Export(),
		Signatures: s.signatures.Export(),
		SavedAt:    time.Now().UTC(),
	}
	if err := s.store.Save(ctx, st); err != nil {
		return err
	}
	s.log.WithField("outcall_entries", len(st.Outcall.Entries)).
		WithField("signatures", len(st.Signatures.Signatures)).
		Debug("cache snapshot saved")
	return nil
}

// Restore loads the last snapshot into both caches. A missing snapshot is
// not an error.
func (s *Saver) Restore(ctx context.Context) error {
	st, err := s.store.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		s.log.Info("no cache snapshot to restore")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	s.outcalls.Restore(st.Outcall)
	s.signatures.Restore(st.Signatures)
	s.log.WithField("saved_at", st.SavedAt).Info("cache snapshot restored")
	return nil
}
