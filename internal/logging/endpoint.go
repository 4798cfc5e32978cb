package logging

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultEndpoint is the log endpoint used when none is configured.
const DefaultEndpoint = "my_endpoint"

// Endpoints resolves endpoint names to line-oriented sinks. Names with a
// configured destination get their own core writing bare lines; any other
// name is written through the fallback core tagged with the endpoint name.
// Neither is subject to the application log level.
type Endpoints struct {
	fallback *zap.Logger
	routed   map[string]*zap.Logger
	closers  []func()
}

// FallbackCore writes JSON lines to stdout at every level.
func FallbackCore() zapcore.Core {
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.Lock(os.Stdout),
		zap.DebugLevel,
	)
}

// NewEndpoints opens every destination (zap sink URLs: stdout, stderr or a
// file path) once. A nil fallback means FallbackCore. Call Close to release
// file handles.
func NewEndpoints(fallback zapcore.Core, destinations map[string]string) (*Endpoints, error) {
	if fallback == nil {
		fallback = FallbackCore()
	}
	e := &Endpoints{
		fallback: zap.New(fallback).Named("endpoint"),
		routed:   make(map[string]*zap.Logger, len(destinations)),
	}

	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey: "msg",
		LineEnding: zapcore.DefaultLineEnding,
	})
	for name, dest := range destinations {
		ws, closeFn, err := zap.Open(dest)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("open endpoint %q at %s: %w", name, dest, err)
		}
		e.closers = append(e.closers, closeFn)
		e.routed[strings.ToLower(name)] = zap.New(zapcore.NewCore(enc, ws, zap.DebugLevel))
	}
	return e, nil
}

// Open returns a fresh handle on the named endpoint.
func (e *Endpoints) Open(name string) *Endpoint {
	if name == "" {
		name = DefaultEndpoint
	}
	// Registry keys are lower-cased by viper.
	if l, ok := e.routed[strings.ToLower(name)]; ok {
		return &Endpoint{name: name, logger: l}
	}
	return &Endpoint{
		name:   name,
		logger: e.fallback.With(zap.String("endpoint", name)),
	}
}

// Close releases the opened destinations.
func (e *Endpoints) Close() {
	for _, c := range e.closers {
		c()
	}
	e.closers = nil
}

// Endpoint is a named, fire-and-forget log sink.
type Endpoint struct {
	name   string
	logger *zap.Logger
}

func (e *Endpoint) Name() string { return e.name }

// Log writes one line.
func (e *Endpoint) Log(line string) {
	e.logger.Info(line)
}

// Write implements io.Writer; each call is one line, trailing newline trimmed.
func (e *Endpoint) Write(p []byte) (int, error) {
	e.Log(string(bytes.TrimRight(p, "\r\n")))
	return len(p), nil
}
