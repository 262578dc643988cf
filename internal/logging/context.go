package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/gin-gonic/gin"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext adds a trace ID to the context and returns a logger with it
func WithTraceContext(ctx context.Context, base *Logger) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := base.WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// TraceID returns the trace ID stored in ctx, if any.
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// CycleContext creates a logger context for one scheduler cycle
func CycleContext(base *Logger, cycle int64) *Logger {
	return base.WithField("cycle", cycle).WithComponent("scheduler")
}

// TradeContext creates a logger context for trade operations
func TradeContext(base *Logger, symbol, style, action string, quantity, price float64) *Logger {
	return base.WithFields(map[string]interface{}{
		"symbol":   symbol,
		"style":    style,
		"action":   action,
		"quantity": quantity,
		"price":    price,
	}).WithComponent("trade")
}

// PositionContext creates a logger context for position operations
func PositionContext(base *Logger, symbol, style string, size, entryPrice float64) *Logger {
	return base.WithFields(map[string]interface{}{
		"symbol":      symbol,
		"style":       style,
		"size":        size,
		"entry_price": entryPrice,
	}).WithComponent("position")
}

// SignalContext creates a logger context for trading signals
func SignalContext(base *Logger, symbol, style, action string, confidence float64) *Logger {
	return base.WithFields(map[string]interface{}{
		"symbol":     symbol,
		"style":      style,
		"action":     action,
		"confidence": confidence,
	}).WithComponent("signal")
}

// RiskContext creates a logger context for risk management
func RiskContext(base *Logger, symbol string, sizePct, equity float64) *Logger {
	return base.WithFields(map[string]interface{}{
		"symbol":   symbol,
		"size_pct": sizePct,
		"equity":   equity,
	}).WithComponent("risk")
}

// GinMiddleware logs every request with a trace ID and stores the logger in the request context.
func GinMiddleware(base *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = GenerateTraceID()
		}

		l := base.WithTraceID(traceID).WithFields(map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"remote_addr": c.ClientIP(),
		}).WithComponent("http")

		c.Request = c.Request.WithContext(NewContext(c.Request.Context(), l))
		c.Header("X-Trace-ID", traceID)

		c.Next()

		l.WithDuration(time.Since(start)).WithField("status_code", c.Writer.Status()).Debug("Request completed")
	}
}
