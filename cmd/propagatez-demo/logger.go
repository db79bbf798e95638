package main

import (
	"fmt"
	"os"

	"github.com/zoobzio/propagatez"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the console logger shared by both subcommands.
func newLogger(level, service string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         "console",
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields: map[string]interface{}{
			"pid":     os.Getpid(),
			"service": service,
		},
	}
	return config.Build()
}

// reportSpans logs every finished span of tracer.
func reportSpans(tracer *propagatez.Tracer, logger *zap.Logger) {
	tracer.OnSpanComplete(func(span propagatez.Span) {
		fields := []zap.Field{
			zap.String("trace_id", span.TraceID.String()),
			zap.String("span_id", span.SpanID.String()),
			zap.Bool("remote_parent", span.RemoteParent),
			zap.Duration("duration", span.Duration),
		}
		if !span.IsRoot() {
			fields = append(fields, zap.String("parent_id", span.ParentID.String()))
		}
		for k, v := range span.Tags {
			fields = append(fields, zap.String(k, v))
		}
		logger.Info("span "+span.Name, fields...)
	})
}
