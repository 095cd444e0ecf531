package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/medrex/caseledger/pkg/logger"
)

// RequestIDHeader carries the request id in and out of the service
const RequestIDHeader = "X-Request-ID"

// MonitoringMiddleware combines metrics, tracing, and logging. Both metrics and
// tracing are optional.
type MonitoringMiddleware struct {
	metrics *MetricsCollector
	tracing *TracingManager
	logger  *logger.Logger
}

// NewMonitoringMiddleware creates a new monitoring middleware
func NewMonitoringMiddleware(metrics *MetricsCollector, tracing *TracingManager, log *logger.Logger) *MonitoringMiddleware {
	return &MonitoringMiddleware{
		metrics: metrics,
		tracing: tracing,
		logger:  log,
	}
}

// HTTPMiddleware assigns a request id, traces, measures and logs every request
func (mm *MonitoringMiddleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := logger.ContextWithRequestID(r.Context(), requestID)

		route := routeTemplate(r)
		wrapper := &monitoringResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapper.Header().Set(RequestIDHeader, requestID)

		if mm.tracing != nil {
			ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))
			spanCtx, span := mm.tracing.StartHTTPSpan(ctx, r.Method, route)
			span.SetAttributes(
				attribute.String("http.user_agent", r.UserAgent()),
				attribute.String("request.id", requestID),
			)
			ctx = logger.ContextWithTraceID(spanCtx, TraceIDFromContext(spanCtx))
			defer func() {
				span.SetAttributes(attribute.Int("http.status_code", wrapper.statusCode))
				if wrapper.statusCode >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, http.StatusText(wrapper.statusCode))
				}
				span.End()
			}()
		}

		next.ServeHTTP(wrapper, r.WithContext(ctx))

		duration := time.Since(start)
		if mm.metrics != nil {
			mm.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(wrapper.statusCode), duration)
		}
		mm.logger.HTTPRequest(ctx, r.Method, r.URL.Path, r.UserAgent(), r.RemoteAddr, wrapper.statusCode, duration.Milliseconds())
	})
}

// routeTemplate keeps metric label cardinality bounded by using the mux route pattern
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

type monitoringResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (mrw *monitoringResponseWriter) WriteHeader(code int) {
	mrw.statusCode = code
	mrw.ResponseWriter.WriteHeader(code)
}

func (mrw *monitoringResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.bytesWritten += int64(n)
	return n, err
}
