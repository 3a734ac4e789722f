package httpserver

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/iago/json2excel-back/internal/http/handlers"
	"github.com/iago/json2excel-back/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimiter    *middleware.RateLimiter
	RateLimitRPS   float64
	RateLimitBurst int
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Updates serves /v1/ws when set.
	Updates http.Handler
}

func NewRouter(deps RouterDependencies) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(deps.API.NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(deps.API.MethodNotAllowed)

	r.HandleFunc("/healthz", deps.API.Health).Methods(http.MethodGet)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/uploads", deps.API.Upload).Methods(http.MethodPost)
	v1.HandleFunc("/jobs", deps.API.CreateJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs", deps.API.ListJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{job_id}", deps.API.JobStatus).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{job_id}/status", deps.API.JobStatus).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{job_id}/result", deps.API.JobResult).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{job_id}/download", deps.API.DownloadJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{job_id}/cancel", deps.API.CancelJob).Methods(http.MethodPost)
	v1.HandleFunc("/queue", deps.API.QueueStatus).Methods(http.MethodGet)
	if deps.Updates != nil {
		v1.Handle("/ws", deps.Updates).Methods(http.MethodGet)
	}

	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(context.Background(), deps.RateLimitRPS, deps.RateLimitBurst)
	}

	handler := http.Handler(r)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = limiter.Middleware(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
