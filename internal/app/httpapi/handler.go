// Package httpapi exposes frog's HTTP routes.
package httpapi

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	app "github.com/the-pines/frog/internal/app"
	"github.com/the-pines/frog/internal/app/metrics"
	"github.com/the-pines/frog/internal/app/storage"
	"github.com/the-pines/frog/internal/errors"
	"github.com/the-pines/frog/internal/httputil"
	"github.com/the-pines/frog/internal/issuing"
	"github.com/the-pines/frog/internal/middleware"
	"github.com/the-pines/frog/pkg/logger"
)

// WebhookPath is exempt from rate limiting and CORS.
const WebhookPath = "/api/stripe/webhook"

// WebhookParser verifies and decodes card processor webhooks.
type WebhookParser interface {
	Parse(payload []byte, signature string) (*issuing.Event, error)
}

// Options carries the HTTP-only collaborators.
type Options struct {
	Webhooks WebhookParser
	Health   storage.Pinger
	// ServiceAuth guards execute-payment. Nil or disabled lets every caller through.
	ServiceAuth *middleware.ServiceAuthMiddleware
	RateLimiter *middleware.RateLimiter
	Origins     []string
	Log         *logger.Logger
	Started     time.Time
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app      *app.Application
	webhooks WebhookParser
	health   storage.Pinger
	started  time.Time
	log      *logger.Logger
}

// NewHandler returns the router exposing the REST API.
func NewHandler(application *app.Application, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	started := opts.Started
	if started.IsZero() {
		started = time.Now()
	}
	h := &handler{
		app:      application,
		webhooks: opts.Webhooks,
		health:   opts.Health,
		started:  started,
		log:      log,
	}

	r := mux.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.LoggingMiddleware(log))
	r.Use(middleware.MetricsMiddleware())

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.HandleFunc("/info", h.info).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc(WebhookPath, h.stripeWebhook).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	if len(opts.Origins) > 0 {
		api.Use(middleware.NewCORSMiddleware(opts.Origins).Handler)
	}
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Handler)
	}

	execute := http.Handler(http.HandlerFunc(h.executePayment))
	if opts.ServiceAuth != nil {
		execute = opts.ServiceAuth.Handler(execute)
	}
	api.Handle("/blockchain/execute-payment", execute).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/blockchain/get-transactions", h.getTransactions).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/blockchain/get-points", h.getPoints).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/db/get-user-card", h.getUserCard).Methods(http.MethodPost, http.MethodOptions)

	api.HandleFunc("/vaults", h.listVaults).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/vaults/create", h.createVault).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/vaults/attach", h.attachVault).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/vaults/{address}", h.getVault).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/vaults/{address}/deposit", h.depositVault).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/vaults/{address}/withdraw", h.withdrawVault).Methods(http.MethodPost, http.MethodOptions)

	return r
}

// writeError maps service errors to responses. Anything that is not a
// ServiceError is logged and rendered as an opaque 500.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var se *errors.ServiceError
	if stderrors.As(err, &se) {
		entry := h.log.WithContext(r.Context()).WithField("code", se.Code)
		if se.Err != nil {
			entry = entry.WithError(se.Err)
		}
		if se.HTTPStatus >= http.StatusInternalServerError {
			entry.Error(se.Message)
		} else {
			entry.Debug(se.Message)
		}
		httputil.WriteServiceError(w, se)
		return
	}
	h.log.WithContext(r.Context()).WithError(err).Error("request failed")
	httputil.InternalError(w)
}

// queryAddress parses a required address query parameter.
func queryAddress(r *http.Request, key string) (common.Address, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if !httputil.IsAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// pathAddress parses the {address} route variable.
func pathAddress(r *http.Request) (common.Address, bool) {
	raw := strings.TrimSpace(mux.Vars(r)["address"])
	if !httputil.IsAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// queryInt parses an integer query parameter, returning def when absent
// or malformed.
func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
