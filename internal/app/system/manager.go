package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Manager starts registered services in registration order and stops them
// in reverse.
type Manager struct {
	mu       sync.Mutex
	services []Service
	names    map[string]struct{}
	started  int
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{names: make(map[string]struct{})}
}

// Register adds a service. Names must be unique and registration is closed
// once the manager has started.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return errors.New("service is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started > 0 {
		return fmt.Errorf("register %s: manager already started", svc.Name())
	}
	if _, exists := m.names[svc.Name()]; exists {
		return fmt.Errorf("service %s already registered", svc.Name())
	}
	m.names[svc.Name()] = struct{}{}
	m.services = append(m.services, svc)
	return nil
}

// Services returns the registered services in start order.
func (m *Manager) Services() []Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Service(nil), m.services...)
}

// Start starts every service. If one fails, the ones already started are
// stopped again before the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, svc := range m.services[m.started:] {
		if err := svc.Start(ctx); err != nil {
			startErr := fmt.Errorf("start %s: %w", svc.Name(), err)
			m.started += i
			if stopErr := m.stopLocked(ctx); stopErr != nil {
				return errors.Join(startErr, stopErr)
			}
			return startErr
		}
	}
	m.started = len(m.services)
	return nil
}

// Stop stops started services in reverse order and reports every failure.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	var errs []error
	for i := m.started - 1; i >= 0; i-- {
		svc := m.services[i]
		if err := svc.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
		}
	}
	m.started = 0
	return errors.Join(errs...)
}

// NoopService is a placeholder with no lifecycle work.
type NoopService struct {
	ServiceName string
}

func (n NoopService) Name() string { return n.ServiceName }

func (NoopService) Start(context.Context) error { return nil }

func (NoopService) Stop(context.Context) error { return nil }
