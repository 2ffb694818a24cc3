package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestIDKey
	companyCodeKey
)

// WithContext stores logger in ctx
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// WithRequestID tags ctx with the id sent as X-Request-Id and returns the
// tagged logger, which is also stored in ctx
func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	tagged := logger.With(zap.String("request_id", requestID))
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	return WithContext(ctx, tagged), tagged
}

// WithCompanyCode tags ctx with the tenant being acted on
func WithCompanyCode(ctx context.Context, logger *zap.Logger, code string) (context.Context, *zap.Logger) {
	tagged := logger.With(zap.String("company_code", code))
	ctx = context.WithValue(ctx, companyCodeKey, code)
	return WithContext(ctx, tagged), tagged
}

// GetRequestID returns the request id in ctx, if any
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// GetCompanyCode returns the company code in ctx, if any
func GetCompanyCode(ctx context.Context) string {
	code, _ := ctx.Value(companyCodeKey).(string)
	return code
}

// Enrich adds the correlation fields carried by ctx (span, request id,
// company code) to logger. A nil logger falls back to the one in ctx.
func Enrich(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if logger == nil {
		logger = FromContext(ctx)
	}
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := GetRequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if code := GetCompanyCode(ctx); code != "" {
		fields = append(fields, zap.String("company_code", code))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
