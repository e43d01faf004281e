/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Logger:     zap request logging
  4. Metrics:    Prometheus request counter and latency histogram
  5. CORS:       Cross-origin requests for frontend

ACTORS:
  Every /api route except the scenario listing requires an actor, read from
  the X-Actor-ID, X-Actor-Name and X-Actor-Role headers. Authentication is
  done upstream; this layer only enforces role gates:
  - approve/reject, direct entry, item and worker mutations, wage create
    and recalculate: admin or administration_staff
  - work-log correction and deletion: admin or administration_staff
  - item edit and delete, pay-rate change, wage delete, scenario load: admin
  - submit request: production_staff

ROUTE GROUPS:
  /api/items/*      Catalog and stock
  /api/workers/*    Workers, their logs and period previews
  /api/worklogs/*   Direct entry and the approval workflow
  /api/wages/*      Wage records
  /api/activity     Audit log
  /api/scenarios/*  Demo scenarios
  /healthz          Liveness (pings the database)
  /metrics          Prometheus

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warp/production-engine/logger"
	"github.com/warp/production-engine/metrics"
	"github.com/warp/production-engine/production"
)

// Actor headers.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorName = "X-Actor-Name"
	HeaderActorRole = "X-Actor-Role"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger.OrNop(opts.Logger).Named("http")))
	r.Use(instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderActorName, HeaderActorRole},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	admins := requireRoles(production.RoleAdmin, production.RoleAdministrationStaff)
	adminOnly := requireRoles(production.RoleAdmin)
	staff := requireRoles(production.RoleProductionStaff)

	r.Route("/api", func(r chi.Router) {
		r.Get("/scenarios", h.ListScenarios)
		r.Get("/scenarios/current", h.GetCurrentScenario)

		r.Group(func(r chi.Router) {
			r.Use(requireActor)

			// Item routes
			r.Route("/items", func(r chi.Router) {
				r.Get("/", h.ListItems)
				r.With(admins).Post("/", h.CreateItem)
				r.Get("/{id}", h.GetItem)
				r.With(adminOnly).Put("/{id}", h.UpdateItem)
				r.With(adminOnly).Delete("/{id}", h.DeleteItem)
				r.With(adminOnly).Put("/{id}/rate", h.UpdatePayRate)
				r.With(admins).Post("/{id}/restock", h.RestockItem)
			})

			// Worker routes
			r.Route("/workers", func(r chi.Router) {
				r.Get("/", h.ListWorkers)
				r.With(admins).Post("/", h.RegisterWorker)
				r.Get("/{id}", h.GetWorker)
				r.Get("/{id}/worklogs", h.ListWorkerLogs)
				r.Get("/{id}/period", h.PreviewPeriod)
			})

			// Work-log routes
			r.Route("/worklogs", func(r chi.Router) {
				r.With(admins).Post("/", h.SubmitDirect)
				r.With(staff).Post("/requests", h.SubmitRequest)
				r.Get("/pending", h.ListPending)
				r.Get("/history", h.ListHistory)
				r.Get("/{id}", h.GetWorkLog)
				r.With(admins).Put("/{id}", h.CorrectWorkLog)
				r.With(admins).Delete("/{id}", h.DeleteWorkLog)
				r.With(admins).Post("/{id}/approve", h.ApproveWorkLog)
				r.With(admins).Post("/{id}/reject", h.RejectWorkLog)
			})

			// Wage routes
			r.Route("/wages", func(r chi.Router) {
				r.Get("/", h.ListWages)
				r.With(admins).Post("/", h.CreateWage)
				r.Get("/week/{week}", h.ListWagesByWeek)
				r.Get("/{id}", h.GetWage)
				r.With(admins).Post("/{id}/recalculate", h.RecalculateWage)
				r.With(adminOnly).Delete("/{id}", h.DeleteWage)
			})

			r.With(admins).Get("/activity", h.ListActivity)
			r.With(adminOnly).Post("/scenarios/load", h.LoadScenario)
		})
	})

	return r
}

// =============================================================================
// ACTOR MIDDLEWARE
// =============================================================================

type actorKey struct{}

func withActor(ctx context.Context, a production.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// actorFrom returns the request's actor. Routes behind requireActor always have one.
func actorFrom(ctx context.Context) production.Actor {
	a, _ := ctx.Value(actorKey{}).(production.Actor)
	return a
}

// requireActor rejects requests without a known actor. The system role is
// reserved for background jobs and cannot be claimed over HTTP.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := production.Actor{
			ID:   r.Header.Get(HeaderActorID),
			Name: r.Header.Get(HeaderActorName),
			Role: production.Role(r.Header.Get(HeaderActorRole)),
		}
		if a.ID == "" || !a.Role.Valid() || a.Role == production.RoleSystem {
			writeError(w, http.StatusUnauthorized, "missing or invalid actor", nil)
			return
		}
		if a.Name == "" {
			a.Name = a.ID
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), a)))
	})
}

func requireRoles(roles ...production.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := actorFrom(r.Context())
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "role "+string(actor.Role)+" may not perform this action", nil)
		})
	}
}

// =============================================================================
// LOGGING & METRICS
// =============================================================================

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			log.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

// instrument records request count and latency by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
