// Package httpapi exposes the operational HTTP surface: health, status,
// catalog, hardware and job endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelpilot/internal/hardware"
	"modelpilot/internal/pipeline"
	"modelpilot/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels(ctx context.Context, capability string) ([]types.Model, error)
	Status(ctx context.Context) types.StatusResponse
	// Hardware returns the cached profile, or re-detects it when refresh is set.
	Hardware(ctx context.Context, refresh bool) hardware.Profile
	Ready() bool
	SubmitJob(ctx context.Context, req types.JobRequest) (types.JobStatus, error)
	JobStatus(id string) (types.JobStatus, error)
	Jobs() []types.JobStatus
	JobResult(id string) (*pipeline.JobResult, error)
	CancelJob(id string) error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(RequestLogger)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status(r.Context()))
	})

	r.Get("/hardware", func(w http.ResponseWriter, r *http.Request) {
		refresh, err := queryBool(r, "refresh")
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, svc.Hardware(r.Context(), refresh))
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		models, err := svc.ListModels(r.Context(), r.URL.Query().Get("capability"))
		if err != nil {
			writeError(w, err)
			return
		}
		if models == nil {
			models = []types.Model{}
		}
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models})
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
				writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			var req types.JobRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				// If exceeded size, MaxBytesReader may cause an error; still return 400 to avoid size leak details
				writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			if err := validate.Struct(req); err != nil {
				writeError(w, err)
				return
			}
			// Join server base context with request context so shutdown cancels submission too.
			ctx, cancel := joinContexts(serverBaseCtx, r.Context())
			defer cancel()
			st, err := svc.SubmitJob(ctx, req)
			if err != nil {
				writeError(w, err)
				return
			}
			w.Header().Set("Location", "/jobs/"+st.ID)
			writeJSON(w, http.StatusAccepted, st)
		})

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			jobs := svc.Jobs()
			if jobs == nil {
				jobs = []types.JobStatus{}
			}
			writeJSON(w, http.StatusOK, types.JobsResponse{Jobs: jobs})
		})

		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			st, err := svc.JobStatus(chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, st)
		})

		r.Get("/{id}/result", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			res, err := svc.JobResult(id)
			if err != nil {
				writeError(w, err)
				return
			}
			if res == nil {
				// Not finished yet: report the status instead.
				st, err := svc.JobStatus(id)
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, http.StatusAccepted, st)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			if err := svc.CancelJob(id); err != nil {
				writeError(w, err)
				return
			}
			st, err := svc.JobStatus(id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, st)
		})
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// queryBool parses an optional boolean query parameter; absent is false.
func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &pipeline.ValidationError{Field: name, Msg: "must be a boolean"}
	}
	return b, nil
}
