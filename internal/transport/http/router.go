package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"course-progression-service/internal/app"
	"course-progression-service/internal/logger"
	"course-progression-service/internal/rbac"
)

// Identity headers are set by the gateway after authentication.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Handlers serves the progression and review REST API.
type Handlers struct {
	progress *app.ProgressService
	reviews  *app.ReviewService
	checker  *rbac.Checker
	log      *logger.Logger
}

func NewHandlers(progress *app.ProgressService, reviews *app.ReviewService, checker *rbac.Checker, log *logger.Logger) *Handlers {
	if checker == nil {
		checker = rbac.NewChecker(nil)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Handlers{progress: progress, reviews: reviews, checker: checker, log: log}
}

// NewRouter mounts the REST API and the telemetry websocket.
func NewRouter(h *Handlers, ws *WSHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(identity)

		r.Route("/courses/{courseID}", func(r chi.Router) {
			r.With(h.checker.Require(rbac.PermContentView)).Get("/content", h.GetContent)
			r.With(h.checker.Require(rbac.PermContentView)).Get("/overview", h.GetOverview)
			r.With(h.checker.Require(rbac.PermContentView)).Post("/videos/{videoID}/progress", h.RecordProgress)
			r.With(h.checker.Require(rbac.PermAttemptTake)).Post("/attempts", h.CreateAttempt)

			r.Route("/units/{unitID}", func(r chi.Router) {
				r.With(h.checker.Require(rbac.PermReviewSubmit)).Post("/reviews", h.SubmitForReview)
				r.With(h.checker.RequireAny(rbac.PermReviewApprove, rbac.PermReviewSubmit)).Get("/eligible-questions", h.EligibleQuestions)
				r.With(h.checker.Require(rbac.PermSecurityUnlock)).Post("/security/unlock", h.UnlockSecurity)
				r.With(h.checker.Require(rbac.PermAttemptsGrant)).Post("/attempts/grant", h.GrantAttempts)
			})
		})

		r.Route("/attempts/{attemptID}", func(r chi.Router) {
			r.Use(h.checker.Require(rbac.PermAttemptTake))
			r.Get("/", h.GetAttempt)
			r.Put("/answers", h.SaveAnswers)
			r.Post("/violations", h.RecordViolation)
			r.Post("/submit", h.SubmitAttempt)
		})

		r.With(h.checker.RequireAny(rbac.PermReviewApprove, rbac.PermReviewFlag, rbac.PermReviewReject)).
			Post("/reviews/{reviewID}", h.ResolveReview)

		if ws != nil {
			r.With(h.checker.Require(rbac.PermAttemptTake)).Get("/ws/telemetry", ws.ServeWS)
		}
	})
	return r
}

// identity lifts the gateway identity headers into the request context.
func identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := rbac.Actor{ID: r.Header.Get(HeaderUserID), Role: r.Header.Get(HeaderUserRole)}
		if actor.ID == "" || actor.Role == "" {
			respondJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthenticated", Message: "missing identity"})
			return
		}
		next.ServeHTTP(w, r.WithContext(rbac.WithActor(r.Context(), actor)))
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
