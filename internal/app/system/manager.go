package system

import (
	"context"
	"fmt"

	"github.com/proofpay/settlement-coordinator/pkg/logger"
)

// Manager starts registered services in order and stops them in reverse.
type Manager struct {
	log      *logger.Logger
	services []Service
	started  []Service
}

// NewManager creates a service manager.
func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("system")
	}
	return &Manager{log: log}
}

// Register adds a service to the managed set. Registration order is start
// order.
func (m *Manager) Register(svc Service) {
	m.services = append(m.services, svc)
}

// StartAll starts every registered service. On failure, services already
// started are stopped before the error is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	for _, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			m.log.WithError(err).WithField("service", svc.Name()).Error("service start failed")
			_ = m.StopAll(ctx)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.started = append(m.started, svc)
		m.log.WithField("service", svc.Name()).Info("service started")
	}
	return nil
}

// StopAll stops started services in reverse order. All services are given a
// chance to stop; the first error is returned.
func (m *Manager) StopAll(ctx context.Context) error {
	var firstErr error
	for i := len(m.started) - 1; i >= 0; i-- {
		svc := m.started[i]
		if err := svc.Stop(ctx); err != nil {
			m.log.WithError(err).WithField("service", svc.Name()).Warn("service stop failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", svc.Name(), err)
			}
		}
	}
	m.started = nil
	return firstErr
}
