package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alecgard/teambeat/internal/auth"
	"github.com/alecgard/teambeat/internal/checkin"
	"github.com/alecgard/teambeat/internal/metrics"
	"github.com/alecgard/teambeat/internal/ratelimit"
)

// Pinger checks database connectivity. *pgxpool.Pool implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Teams          TeamService
	History        HistoryService
	Deliveries     DeliveryReader
	Collector      Collector
	Dispatcher     DispatchRunner
	Verifier       *auth.Verifier
	Limiter        *ratelimit.Limiter
	Metrics        *metrics.Metrics
	DB             Pinger
	AllowedOrigins []string

	// TrustProxy derives the client address from forwarding headers.
	TrustProxy bool
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(requestLogger(deps.Metrics))

	teams := newTeamsHandler(deps.Teams)
	cycles := newCyclesHandler(deps.History, deps.Deliveries)
	runs := newDispatchHandler(deps.Dispatcher)
	status := newStatusHandler(deps.Collector)

	r.Get("/health", healthHandler(deps.DB))

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	// Collection form, reached from emailed links. The token is the only
	// credential, so requests are limited per client address.
	r.Group(func(cr chi.Router) {
		cr.Use(ratelimit.Middleware(deps.Limiter, ratelimit.ClientIP, func() {
			deps.Metrics.IncRateLimitRejection("collection")
		}))
		cr.Get(checkin.SavePath, status.Show)
		cr.Post(checkin.SavePath, status.Save)
	})

	// Admin routes (require admin key).
	r.Route("/api/v1/admin", func(ar chi.Router) {
		ar.Use(corsMiddleware(deps.AllowedOrigins))
		ar.Use(auth.AdminKeyMiddleware(deps.Verifier, deps.Metrics.IncAuthFailure))

		// Team management.
		ar.Post("/teams", teams.CreateTeam)
		ar.Get("/teams", teams.ListTeams)
		ar.Get("/teams/{teamID}", teams.GetTeam)
		ar.Put("/teams/{teamID}", teams.UpdateTeam)

		// Membership.
		ar.Post("/teams/{teamID}/members", teams.AddMember)
		ar.Get("/teams/{teamID}/members", teams.ListMembers)
		ar.Put("/teams/{teamID}/members/{memberID}", teams.UpdateMember)

		// Report history.
		ar.Get("/teams/{teamID}/cycles", cycles.ListCycles)
		ar.Get("/cycles/{cycleID}/report", cycles.GetReport)
		ar.Get("/cycles/{cycleID}/deliveries", cycles.ListDeliveries)

		// Per-user views.
		ar.Get("/users/{userID}/open", cycles.OpenForUser)
		ar.Post("/users/{userID}/submissions/{submissionID}/link", cycles.FreshLink)

		// Operations.
		ar.Post("/dispatch", runs.Run)
		if deps.Metrics != nil {
			ar.Get("/metrics/summary", deps.Metrics.Handler())
		}
	})

	return r
}

// healthHandler reports liveness and, when db is set, database reachability.
func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "connected"})
	}
}
