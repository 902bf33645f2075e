// Package app composes the card payment and vault services into a running
// application.
//
// # Architecture Role
//
// The app package sits between the HTTP surface (internal/app/httpapi) and
// the services under internal/app/services. It owns wiring and lifecycle,
// not business rules.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Stores, dependencies and lifecycle
//	├── domain/             # Plain data: user, card, payment, settlement, vault
//	├── storage/            # Store interfaces plus memory/ and postgres/
//	├── services/           # payments, settlement, vaults, cards, points
//	├── httpapi/            # Routes, webhook intake and JSON handlers
//	├── runtime/            # Config, database, chain and server assembly
//	├── system/             # Service manager (ordered start, reverse stop)
//	└── metrics/            # Prometheus collectors
//
// # Payment Flow
//
//	card network ──► webhook (authorization.request) ──► payments.Authorize
//	                 webhook (authorization.created) ──► payments.RecordAuthorization
//	                                                        │
//	                                                        ▼
//	                                                 settlement queue
//	                                                        │
//	                          settlement worker (cron) ◄────┘
//	                                   │
//	                                   ▼
//	                         payments.Execute ──► USDC transferFrom to treasury
//
// Execute is also reachable directly through POST
// /api/blockchain/execute-payment. A payment is executed at most once: the
// execution claim is stored before any chain write.
//
// # Dependency Direction
//
//	cmd/frog
//	   │
//	   ▼
//	internal/app/runtime ──► internal/app (composition)
//	                              │
//	                              ├──► internal/app/services
//	                              ├──► internal/app/storage
//	                              ├──► internal/chain
//	                              └──► internal/pricing
package app
