// Package httpapi exposes the submission pipeline, review gate, ledger,
// marketplace and fingerprint registry over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ecocredit.org/internal/action"
	"ecocredit.org/internal/auth"
	"ecocredit.org/internal/ledger"
	"ecocredit.org/internal/market"
	"ecocredit.org/internal/obs"
	"ecocredit.org/internal/pipeline"
	"ecocredit.org/internal/registry"
	"ecocredit.org/internal/review"
	"ecocredit.org/internal/stream"
)

const serviceName = "ecocredit-api"

// ReadyProbe reports whether dependencies can serve traffic.
type ReadyProbe interface {
	Check(ctx context.Context) error
}

// ReadyFunc adapts a function to ReadyProbe.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) Check(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f(ctx)
}

// Deps are the domain services the API serves. Evidence and Stream may be nil.
type Deps struct {
	Ledger   ledger.Service
	Actions  action.Store
	Registry registry.Registry
	Market   market.Store
	Pipeline *pipeline.Pipeline
	Review   *review.Gate
	Stream   *stream.Stream
	// Events overrides Stream as the destination of published events.
	Events   stream.Publisher
	Evidence http.Handler
	Ready    ReadyProbe
	Admins   auth.AdminPolicy
}

// Options tune the HTTP surface.
type Options struct {
	Version        string
	AllowDevTokens bool
	TokenTTL       time.Duration
	MaxBodyBytes   int64
	RateBurst      int
	RatePerSecond  int
	AllowedOrigins []string
}

// API is the HTTP layer.
type API struct {
	deps Deps
	opts Options
}

func New(deps Deps, opts Options) *API {
	if deps.Ready == nil {
		deps.Ready = ReadyFunc(nil)
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 12 * time.Hour
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 12 << 20
	}
	return &API{deps: deps, opts: opts}
}

// publisher returns the stream as a Publisher, or nil when streaming is off.
func (a *API) publisher() stream.Publisher {
	if a.deps.Events != nil {
		return a.deps.Events
	}
	if a.deps.Stream == nil {
		return nil
	}
	return a.deps.Stream
}

// Handler returns the router wrapped in metrics and rate limiting.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingJSON)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(CORS(a.opts.AllowedOrigins))
	r.Use(MaxBodyBytes(a.opts.MaxBodyBytes))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())
	r.Get("/v1/info", a.Info)
	r.Post("/v1/auth/token", a.handleAuthToken)
	if a.deps.Evidence != nil {
		r.Handle("/evidence/*", http.StripPrefix("/evidence/", a.deps.Evidence))
	}

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(a.deps.Admins))

		r.With(RequirePermission(auth.PermRegistryClaim)).Post("/bills", a.claimBill)
		r.With(RequirePermission(auth.PermRegistryExport)).Get("/bills/export", a.exportBills)

		r.Route("/v1", func(r chi.Router) {
			r.With(RequirePermission(auth.PermActionsSubmit)).Post("/actions", a.submitAction)
			r.Get("/actions/{id}", a.getAction)

			r.Route("/accounts/{id}", func(r chi.Router) {
				r.Use(RequirePermission(auth.PermAccountRead))
				r.Get("/", a.getAccount)
				r.Get("/actions", a.listAccountActions)
				r.Get("/entries", a.listEntries)
				r.Post("/premium", a.setPremium)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireRole(auth.RoleAdmin))
				r.Get("/actions/pending", a.listPending)
				r.Post("/actions/{id}/review", a.reviewAction)
			})

			r.Get("/marketplace/items", a.listItems)
			r.With(RequirePermission(auth.PermMarketplaceManage)).Post("/marketplace/items", a.createItem)
			r.With(RequirePermission(auth.PermMarketplaceRedeem)).Post("/marketplace/redemptions", a.redeem)

			r.Get("/stream", a.Stream)
		})
	})

	return obs.Instrument(RateLimit(r, a.opts.RateBurst, a.opts.RatePerSecond))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.deps.Ready.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	categories := make(map[string]string)
	for _, c := range action.Categories() {
		co2, _ := c.CO2Saved()
		categories[string(c)] = co2.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       serviceName,
		"time":       time.Now().UTC().Format(time.RFC3339),
		"version":    a.opts.Version,
		"categories": categories,
	})
}
