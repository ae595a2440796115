package feeds

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/oracle_layer/internal/app/system"
	"github.com/R3E-Network/oracle_layer/pkg/logger"
)

// Cleaner trims the outbound, signature and rate caches on a cron schedule.
type Cleaner struct {
	service  *Service
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*Cleaner)(nil)

// NewCleaner creates a cleaner. An empty schedule defaults to every minute.
func NewCleaner(service *Service, schedule string, log *logger.Logger) *Cleaner {
	if log == nil {
		log = logger.NewDefault("feeds-cleaner")
	}
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &Cleaner{service: service, schedule: schedule, log: log}
}

func (c *Cleaner) Name() string { return "feeds-cleaner" }

func (c *Cleaner) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	sched := cron.New()
	if _, err := sched.AddFunc(c.schedule, c.run); err != nil {
		return fmt.Errorf("schedule cache cleaner %q: %w", c.schedule, err)
	}
	sched.Start()
	c.cron = sched
	c.running = true

	c.log.WithField("schedule", c.schedule).Info("cache cleaner started")
	return nil
}

func (c *Cleaner) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	sched := c.cron
	c.cron = nil
	c.running = false
	c.mu.Unlock()

	select {
	case <-sched.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (c *Cleaner) run() {
	c.service.CleanCaches()
	c.log.Debug("caches cleaned")
}
