package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"webup/borgmon"
	"webup/borgmon/auth"
	"webup/borgmon/tasks"

	"fmt"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
)

const version = "1.0.0"

type HTTPApi struct {
}

func NewAPI() borgmon.API {
	return &HTTPApi{}
}

func (api *HTTPApi) Listen(ctx context.Context) error {

	opts, ok := borgmon.SettingsFromContext(ctx)
	if !ok {
		return fmt.Errorf("unable to get settings from context")
	}

	log.Infof("API listening on %v", opts.APIListen)
	return http.ListenAndServe(opts.APIListen, api.Handler(ctx))
}

// Handler builds the configured router.
func (api *HTTPApi) Handler(ctx context.Context) http.Handler {
	router := chi.NewRouter()

	// carry the server settings on every request context, so cancellation
	// still comes from the connection
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts, ok := borgmon.SettingsFromContext(ctx); ok {
				r = r.WithContext(borgmon.NewContextWithSettings(r.Context(), opts))
			}
			next.ServeHTTP(w, r)
		})
	})

	router.Get("/health", api.GetHealth(ctx))
	router.Post("/api/auth/login", api.Login(ctx))

	// dashboard endpoints, behind a session token
	router.Group(func(r chi.Router) {
		r.Use(api.sessionRequired(ctx))

		r.Post("/api/auth/verify", api.VerifySession(ctx))
		r.Get("/api/jobs", api.GetJobs(ctx))
		r.Get("/api/jobs/{jobID}", api.GetJob(ctx))
		r.Get("/api/jobs/{jobID}/archives", api.GetJobArchives(ctx))
		r.Get("/api/jobs/{jobID}/events", api.GetJobEvents(ctx))
		r.Get("/api/jobs/{jobID}/events/{eventID}/info", api.GetEventInfo(ctx))
		r.Post("/api/jobs/{jobID}/sync", api.SyncJob(ctx))
		r.Get("/api/charts", api.GetChartData(ctx))
	})

	// push endpoints, behind a per-job API key
	router.Post("/api/push/event", api.PushEvent(ctx))
	router.Post("/api/push/borg/info", api.PushBorgInfo(ctx))
	router.Post("/api/push/borgmatic/info", api.PushBorgmaticInfo(ctx))
	router.Post("/api/push/borgmatic/rinfo", api.PushBorgmaticInfo(ctx))

	return router
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (api *HTTPApi) Login(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, ok := borgmon.SettingsFromContext(ctx)
		if !ok {
			writeError(w, fmt.Errorf("unable to get settings from context"))
			return
		}

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: unparseable login payload", borgmon.ErrMalformedPayload))
			return
		}

		if !auth.VerifyCredentials(opts.Auth, req.Username, req.Password) {
			writeError(w, fmt.Errorf("%w: invalid credentials", borgmon.ErrUnauthorized))
			return
		}

		token, expiresAt, err := auth.IssueToken(opts.Auth, req.Username, time.Now())
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, loginResponse{
			AccessToken: token,
			TokenType:   "bearer",
			ExpiresAt:   expiresAt,
		})
	}
}

func (api *HTTPApi) VerifySession(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid": true,
			"user":  usernameFromRequest(r),
		})
	}
}

func (api *HTTPApi) GetHealth(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now(),
			"version":   version,
		})
	}
}

func (api *HTTPApi) GetJobs(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := tasks.ListJobsQuery{
			Search:  r.URL.Query().Get("search"),
			Tags:    splitTags(r.URL.Query().Get("tags")),
			SortBy:  r.URL.Query().Get("sortBy"),
			SortDir: r.URL.Query().Get("sortDir"),
		}

		jobs, err := tasks.ListJobs(r.Context(), query)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

func (api *HTTPApi) GetJob(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := tasks.GetJob(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func (api *HTTPApi) GetJobArchives(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sortBy := borgmon.ArchiveSortField(r.URL.Query().Get("sort_by"))
		if sortBy == "" {
			sortBy = borgmon.ArchiveSortDate
		}
		if !borgmon.KnownArchiveSortField(sortBy) {
			writeError(w, fmt.Errorf("%w: unknown sort_by %q", borgmon.ErrMalformedPayload, sortBy))
			return
		}
		sortOrder := r.URL.Query().Get("sort_order")
		if sortOrder == "" {
			sortOrder = "desc"
		}
		if sortOrder != "asc" && sortOrder != "desc" {
			writeError(w, fmt.Errorf("%w: sort_order must be 'asc' or 'desc'", borgmon.ErrMalformedPayload))
			return
		}

		query := borgmon.ArchiveQuery{
			Offset:    intParam(r, "offset", 0, 0),
			Limit:     intParam(r, "limit", 15, 100),
			SortBy:    sortBy,
			SortOrder: sortOrder,
		}

		page, err := tasks.ListArchives(r.Context(), chi.URLParam(r, "jobID"), query)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func (api *HTTPApi) GetJobEvents(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset := intParam(r, "offset", 0, 0)
		limit := intParam(r, "limit", 15, 100)

		page, err := tasks.ListEvents(r.Context(), chi.URLParam(r, "jobID"), offset, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func (api *HTTPApi) GetEventInfo(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, err := strconv.ParseUint(chi.URLParam(r, "eventID"), 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: invalid event id", borgmon.ErrMalformedPayload))
			return
		}

		offset := intParam(r, "offset", 0, 0)
		limit := intParam(r, "limit", 50, 200)

		page, err := tasks.GetEventBody(r.Context(), chi.URLParam(r, "jobID"), eventID, offset, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func (api *HTTPApi) SyncJob(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := tasks.SyncJob(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (api *HTTPApi) GetChartData(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chart, err := tasks.AggregateChart(
			r.Context(),
			r.URL.Query().Get("type"),
			splitTags(r.URL.Query().Get("tags")),
			r.URL.Query().Get("search"),
		)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chart)
	}
}

func (api *HTTPApi) PushEvent(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tasks.PushEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: unparseable push payload", borgmon.ErrMalformedPayload))
			return
		}

		resp, err := tasks.PushEvent(r.Context(), bearerToken(r), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (api *HTTPApi) PushBorgInfo(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tasks.PushBorgInfoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: unparseable push payload", borgmon.ErrMalformedPayload))
			return
		}

		resp, err := tasks.PushBorgInfo(r.Context(), bearerToken(r), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (api *HTTPApi) PushBorgmaticInfo(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tasks.PushBorgmaticRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: unparseable push payload", borgmon.ErrMalformedPayload))
			return
		}

		resp, err := tasks.PushBorgmaticInfo(r.Context(), bearerToken(r), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type usernameKey struct{}

// sessionRequired checks the bearer session token and stores the
// authenticated username on the request context.
func (api *HTTPApi) sessionRequired(ctx context.Context) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			opts, ok := borgmon.SettingsFromContext(ctx)
			if !ok {
				writeError(w, fmt.Errorf("unable to get settings from context"))
				return
			}

			token := bearerToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, fmt.Errorf("%w: session token required", borgmon.ErrUnauthorized))
				return
			}

			username, err := auth.VerifyToken(opts.Auth, token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, fmt.Errorf("%w: invalid or expired token", borgmon.ErrUnauthorized))
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), usernameKey{}, username)))
		})
	}
}

func usernameFromRequest(r *http.Request) string {
	username, _ := r.Context().Value(usernameKey{}).(string)
	return username
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	tags := []string{}
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func intParam(r *http.Request, name string, fallback, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	if max > 0 && value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithFields(log.Fields{
			"err": err,
		}).Errorln("Unable to write JSON response")
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	switch {
	case errors.Is(err, borgmon.ErrUnauthorized):
		statusCode = http.StatusUnauthorized
	case errors.Is(err, borgmon.ErrNotFound):
		statusCode = http.StatusNotFound
	case errors.Is(err, borgmon.ErrMalformedPayload):
		statusCode = http.StatusBadRequest
	case errors.Is(err, borgmon.ErrStorageUnavailable):
		statusCode = http.StatusServiceUnavailable
	}

	if statusCode == http.StatusInternalServerError {
		log.WithFields(log.Fields{
			"err": err,
		}).Errorln("Request failed")
	}

	writeJSON(w, statusCode, errorResponse{Success: false, Message: err.Error()})
}
