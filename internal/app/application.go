package app

import (
	"context"
	"fmt"

	"github.com/the-pines/frog/internal/app/services/cards"
	"github.com/the-pines/frog/internal/app/services/payments"
	"github.com/the-pines/frog/internal/app/services/points"
	"github.com/the-pines/frog/internal/app/services/settlement"
	"github.com/the-pines/frog/internal/app/services/vaults"
	"github.com/the-pines/frog/internal/app/storage"
	"github.com/the-pines/frog/internal/app/storage/memory"
	"github.com/the-pines/frog/internal/app/system"
	"github.com/the-pines/frog/internal/chain"
	"github.com/the-pines/frog/internal/config"
	"github.com/the-pines/frog/internal/issuing"
	"github.com/the-pines/frog/internal/pricing"
	"github.com/the-pines/frog/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users      storage.UserStore
	Cards      storage.CardStore
	Payments   storage.PaymentStore
	Vaults     storage.VaultStore
	Settlement storage.SettlementStore
}

// Deps are the external collaborators of the services.
type Deps struct {
	Chain      chain.Backend
	Oracle     *pricing.Oracle
	Cards      issuing.CardProvider
	Contracts  config.Contracts
	Settlement settlement.Config
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Chain      chain.Backend
	Payments   *payments.Service
	Settlement *settlement.Queue
	Worker     *settlement.Worker
	Vaults     *vaults.Service
	Cards      *cards.Service
	// Points is nil when the points contracts are not configured.
	Points *points.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, deps Deps, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if deps.Chain == nil {
		return nil, fmt.Errorf("chain backend required")
	}
	if deps.Oracle == nil {
		deps.Oracle = pricing.MustNew(pricing.Config{})
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Cards == nil {
		stores.Cards = mem
	}
	if stores.Payments == nil {
		stores.Payments = mem
	}
	if stores.Vaults == nil {
		stores.Vaults = mem
	}
	if stores.Settlement == nil {
		stores.Settlement = mem
	}

	book := deps.Contracts
	manager := system.NewManager()

	paymentService := payments.New(stores.Users, stores.Cards, stores.Payments, deps.Chain, deps.Oracle, payments.Config{
		USDC:     config.Address(book.USDC),
		Treasury: config.Address(book.Treasury),
	}, log.Named("payments"))

	queue := settlement.NewQueue(stores.Settlement, log.Named("settlement"))
	paymentService.SetQueue(queue)

	var pointsService *points.Service
	if book.PointsToken != "" && book.Leaderboard != "" {
		pointsService = points.New(deps.Chain, config.Address(book.PointsToken), config.Address(book.Leaderboard), deps.Oracle, log.Named("points"))
		paymentService.SetAwarder(pointsService)
	} else {
		log.Warn("points contracts not configured; points disabled")
	}

	vaultService := vaults.New(stores.Users, stores.Vaults, deps.Chain, deps.Oracle, vaults.Config{
		USDC:         config.Address(book.USDC),
		VaultFactory: config.Address(book.VaultFactory),
		Router:       config.Address(book.Router),
		Hidden:       book.Hidden,
	}, log.Named("vaults"))

	cardService := cards.New(stores.Users, stores.Cards, deps.Cards, log.Named("cards"))

	worker := settlement.NewWorker(stores.Settlement, paymentService, deps.Settlement, log.Named("settlement"))
	if err := manager.Register(worker); err != nil {
		return nil, fmt.Errorf("register %s: %w", worker.Name(), err)
	}

	return &Application{
		manager:    manager,
		log:        log,
		Chain:      deps.Chain,
		Payments:   paymentService,
		Settlement: queue,
		Worker:     worker,
		Vaults:     vaultService,
		Cards:      cardService,
		Points:     pointsService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
