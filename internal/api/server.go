// Package api exposes the case ledger over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/medrex/caseledger/internal/filestore"
	"github.com/medrex/caseledger/internal/ledger"
	"github.com/medrex/caseledger/internal/signer"
	"github.com/medrex/caseledger/pkg/logger"
	"github.com/medrex/caseledger/pkg/monitoring"
	"github.com/medrex/caseledger/pkg/types"
)

// Options wires a Server. Metrics, Health and Tracing are optional.
type Options struct {
	Ledger  *ledger.Ledger
	Files   filestore.Store
	Auth    signer.Authenticator
	Metrics *monitoring.MetricsCollector
	Health  *monitoring.HealthManager
	Tracing *monitoring.TracingManager
	Logger  *logger.Logger

	// RateLimit is requests per minute per account; 0 disables limiting
	RateLimit   int
	MaxUploadMB int
	MetricsPath string
	HealthPath  string
}

// Server holds the HTTP handlers for every ledger operation
type Server struct {
	ledger  *ledger.Ledger
	files   filestore.Store
	auth    signer.Authenticator
	metrics *monitoring.MetricsCollector
	health  *monitoring.HealthManager
	tracing *monitoring.TracingManager
	limiter *RateLimiter
	logger  *logger.Logger

	maxUploadBytes int64
	metricsPath    string
	healthPath     string
}

// NewServer creates a server
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{
		ledger:         opts.Ledger,
		files:          opts.Files,
		auth:           opts.Auth,
		metrics:        opts.Metrics,
		health:         opts.Health,
		tracing:        opts.Tracing,
		logger:         log,
		maxUploadBytes: int64(opts.MaxUploadMB) << 20,
		metricsPath:    opts.MetricsPath,
		healthPath:     opts.HealthPath,
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = 32 << 20
	}
	if s.metricsPath == "" {
		s.metricsPath = "/metrics"
	}
	if s.healthPath == "" {
		s.healthPath = "/health"
	}
	if opts.RateLimit > 0 {
		s.limiter = NewRateLimiter(opts.RateLimit, time.Minute)
	}
	return s
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	mm := monitoring.NewMonitoringMiddleware(s.metrics, s.tracing, s.logger)
	router.Use(mm.HTTPMiddleware, securityHeadersMiddleware, corsMiddleware)

	if s.health != nil {
		router.HandleFunc(s.healthPath, s.health.HTTPHandler()).Methods(http.MethodGet)
	}
	if s.metrics != nil {
		router.Handle(s.metricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware, s.rateLimitMiddleware)
	s.registerRoutes(api)

	// CORS preflight never reaches the authenticated subrouter
	router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return router
}

func (s *Server) registerRoutes(r *mux.Router) {
	// Registry
	r.HandleFunc("/patients", s.RegisterPatient).Methods(http.MethodPost)
	r.HandleFunc("/patients/{account}", s.GetPatient).Methods(http.MethodGet)
	r.HandleFunc("/patients/{account}/cases", s.GetCaseIDsForPatient).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{account}/role", s.GetRole).Methods(http.MethodGet)
	r.HandleFunc("/doctors", s.AssignDoctor).Methods(http.MethodPost)
	r.HandleFunc("/doctors", s.GetAllDoctors).Methods(http.MethodGet)

	// Cases
	r.HandleFunc("/cases", s.CreateCase).Methods(http.MethodPost)
	r.HandleFunc("/cases/counter", s.CaseCounter).Methods(http.MethodGet)
	r.HandleFunc("/cases/{caseId:[0-9]+}", s.GetCaseDetails).Methods(http.MethodGet)
	r.HandleFunc("/cases/{caseId:[0-9]+}/close", s.CloseCase).Methods(http.MethodPost)
	r.HandleFunc("/cases/{caseId:[0-9]+}/records", s.AddRecord).Methods(http.MethodPost)
	r.HandleFunc("/cases/{caseId:[0-9]+}/records", s.GetCaseRecords).Methods(http.MethodGet)
	r.HandleFunc("/cases/{caseId:[0-9]+}/reports", s.AddReport).Methods(http.MethodPost)
	r.HandleFunc("/cases/{caseId:[0-9]+}/reports/upload", s.UploadReport).Methods(http.MethodPost)

	// Records and files
	r.HandleFunc("/records/{recordId:[0-9]+}", s.GetRecord).Methods(http.MethodGet)
	r.HandleFunc("/files/{cid}", s.GetFile).Methods(http.MethodGet)

	// Caller-scoped views
	r.HandleFunc("/me/role", s.GetMyRole).Methods(http.MethodGet)
	r.HandleFunc("/me/cases", s.GetMyCases).Methods(http.MethodGet)
	r.HandleFunc("/me/cases/{caseId:[0-9]+}", s.GetMyCaseDetails).Methods(http.MethodGet)
	r.HandleFunc("/me/patients", s.GetMyPatients).Methods(http.MethodGet)

	// Contract-style invocation by operation name
	r.HandleFunc("/contract/{method}", s.InvokeContract).Methods(http.MethodPost)
}

type contextKey string

const callerKey contextKey = "caller"

func withCaller(ctx context.Context, account types.Account) context.Context {
	ctx = context.WithValue(ctx, callerKey, account)
	return logger.ContextWithAccount(ctx, string(account))
}

// callerFrom returns the authenticated account of the request
func callerFrom(r *http.Request) types.Account {
	account, _ := r.Context().Value(callerKey).(types.Account)
	return account
}

// RunLimiterCleanup evicts idle rate limit buckets every interval until ctx is done
func (s *Server) RunLimiterCleanup(ctx context.Context, interval time.Duration) {
	if s.limiter == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Cleanup(interval)
		}
	}
}
