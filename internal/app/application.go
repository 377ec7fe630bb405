// Package app wires the coordinator services together and manages their
// lifecycle.
package app

import (
	"context"
	"time"

	"github.com/proofpay/settlement-coordinator/internal/app/services/funds"
	"github.com/proofpay/settlement-coordinator/internal/app/storage"
	"github.com/proofpay/settlement-coordinator/internal/app/storage/memory"
	"github.com/proofpay/settlement-coordinator/internal/app/system"
	"github.com/proofpay/settlement-coordinator/internal/ledger"
	"github.com/proofpay/settlement-coordinator/pkg/logger"
)

// Dependencies carries the external boundaries the application runs against.
// A nil Metadata store defaults to the in-memory implementation.
type Dependencies struct {
	Ledger   ledger.Ledger
	Signer   funds.Signer
	Metadata storage.MetadataStore

	Pipeline          funds.PipelineConfig
	ReconcileInterval time.Duration
}

// Application ties the coordinator services together.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Funds      *funds.Service
	Reconciler *funds.Reconciler
}

// New builds a fully initialised application.
func New(deps Dependencies, log *logger.Logger) *Application {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if deps.Metadata == nil {
		deps.Metadata = memory.New()
	}

	manager := system.NewManager(log.WithField("component", "system"))

	fundService := funds.New(deps.Ledger, deps.Signer, deps.Metadata, deps.Pipeline, log.WithField("component", "funds"))
	reconciler := funds.NewReconciler(fundService, deps.ReconcileInterval, log.WithField("component", "reconciler"))
	manager.Register(reconciler)

	return &Application{
		manager:    manager,
		log:        log,
		Funds:      fundService,
		Reconciler: reconciler,
	}
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) {
	a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.StartAll(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.StopAll(ctx)
}
