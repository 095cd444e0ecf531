package logger

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	accountKey   contextKey = "account"
	traceIDKey   contextKey = "trace_id"
)

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
}

// New creates a new logger instance
func New(level string) *Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	log.SetOutput(os.Stdout)

	return &Logger{Logger: log}
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Logger{Logger: log}
}

// ContextWithRequestID stores a request id for WithContext
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ContextWithAccount stores the caller account for WithContext
func ContextWithAccount(ctx context.Context, account string) context.Context {
	return context.WithValue(ctx, accountKey, account)
}

// ContextWithTraceID stores a trace id for WithContext
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// RequestIDFromContext returns the request id stored in ctx, if any
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithFields creates a new logger entry with the specified fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithComponent creates a new logger entry with component name field
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithField("component", component)
}

// WithRequestID creates a new logger entry with request ID field
func (l *Logger) WithRequestID(requestID string) *logrus.Entry {
	return l.Logger.WithField("request_id", requestID)
}

// WithContext creates a logger with context-aware fields
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithFields(logrus.Fields{})

	if traceID, ok := ctx.Value(traceIDKey).(string); ok && traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	if account, ok := ctx.Value(accountKey).(string); ok && account != "" {
		entry = entry.WithField("account", account)
	}

	return entry
}

// Audit logs audit events with structured format
func (l *Logger) Audit(ctx context.Context, account, action, resource string, success bool, details map[string]interface{}) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"audit":    true,
		"account":  account,
		"action":   action,
		"resource": resource,
		"success":  success,
		"details":  details,
	})

	if success {
		entry.Info("Audit event")
	} else {
		entry.Warn("Audit event failed")
	}
}

// LedgerTransaction logs a committed or rejected ledger mutation
func (l *Logger) LedgerTransaction(ctx context.Context, operation string, success bool, durationMs int64, details map[string]interface{}) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"ledger":      true,
		"operation":   operation,
		"success":     success,
		"duration_ms": durationMs,
		"details":     details,
	})

	if success {
		entry.Info("Ledger transaction committed")
	} else {
		entry.Warn("Ledger transaction rejected")
	}
}

// HTTPRequest logs HTTP request events
func (l *Logger) HTTPRequest(ctx context.Context, method, path, userAgent, clientIP string, statusCode int, duration int64) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"http_request": true,
		"method":       method,
		"path":         path,
		"user_agent":   userAgent,
		"client_ip":    clientIP,
		"status_code":  statusCode,
		"duration_ms":  duration,
	})

	if statusCode >= 400 {
		entry.Warn("HTTP request completed with error")
	} else {
		entry.Info("HTTP request completed")
	}
}

// DatabaseOperation logs state backend operations
func (l *Logger) DatabaseOperation(ctx context.Context, backend, operation string, duration int64, keys int, success bool) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"database":    true,
		"backend":     backend,
		"operation":   operation,
		"duration_ms": duration,
		"keys":        keys,
		"success":     success,
	})

	if success {
		entry.Debug("Database operation completed")
	} else {
		entry.Error("Database operation failed")
	}
}
