package logging

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	level  = zap.NewAtomicLevelAt(zap.InfoLevel)
)

// ParseLevel maps a config level name to a zap level, defaulting to info.
func ParseLevel(name string) zapcore.Level {
	switch strings.ToLower(name) {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Init initializes the structured logger
func Init(levelName, environment string) error {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	level.SetLevel(ParseLevel(levelName))
	config.Level = level

	// Human readable output when running locally
	if environment == "development" {
		config.Development = true
		config.Encoding = "console"
		config.EncoderConfig = zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}
	}

	built, err := config.Build()
	if err != nil {
		return err
	}
	logger = built
	return nil
}

// SetLevel changes the level of the global logger at runtime.
func SetLevel(levelName string) {
	level.SetLevel(ParseLevel(levelName))
}

// Level returns the current global level.
func Level() zapcore.Level {
	return level.Level()
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if logger == nil {
		// Fallback to default production logger
		logger, _ = zap.NewProduction()
	}
	return logger
}

// SetLogger replaces the global logger. Used by tests and embedders.
func SetLogger(l *zap.Logger) {
	logger = l
}

// Console returns the logger used for generic console-style output.
func Console() *zap.Logger {
	return GetLogger().Named("console")
}

func traceField(ctx context.Context) (zap.Field, bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return zap.Skip(), false
	}
	return zap.String("trace_id", sc.TraceID().String()), true
}

// LogHTTPRequest logs HTTP request with structured fields
func LogHTTPRequest(ctx context.Context, method, path, status string, latency, size int64) {
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("path", path),
		zap.String("status", status),
		zap.Int64("latency_ms", latency),
		zap.Int64("size_bytes", size),
	}

	if f, ok := traceField(ctx); ok {
		fields = append(fields, f)
	}

	GetLogger().Info("http_request", fields...)
}

// LogRateLimited logs rate limiting events
func LogRateLimited(ctx context.Context, route string) {
	fields := []zap.Field{
		zap.String("route", route),
		zap.String("event", "rate_limited"),
	}

	if f, ok := traceField(ctx); ok {
		fields = append(fields, f)
	}

	GetLogger().Warn("rate_limited", fields...)
}

// LogHTTPServerStart logs HTTP server startup
func LogHTTPServerStart(name, addr string) {
	GetLogger().Info("http_server_start",
		zap.String("server", name),
		zap.String("listen_addr", addr),
	)
}

func toFields(fields map[string]interface{}) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			zapFields = append(zapFields, zap.String(k, val))
		case int:
			zapFields = append(zapFields, zap.Int(k, val))
		case bool:
			zapFields = append(zapFields, zap.Bool(k, val))
		case float64:
			zapFields = append(zapFields, zap.Float64(k, val))
		case error:
			zapFields = append(zapFields, zap.NamedError(k, val))
		default:
			zapFields = append(zapFields, zap.Any(k, v))
		}
	}
	return zapFields
}

// LogInfo logs general info messages with structured fields
func LogInfo(message string, fields map[string]interface{}) {
	GetLogger().Info(message, toFields(fields)...)
}

// LogError logs error messages with structured fields
func LogError(message string, fields map[string]interface{}) {
	GetLogger().Error(message, toFields(fields)...)
}

// Sync flushes any buffered log entries
func Sync() error {
	if logger != nil {
		return logger.Sync()
	}
	return nil
}
