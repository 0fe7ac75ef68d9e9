// Package telemetry owns tracing setup. The rest of the process asks it two
// questions: which trace mode is active, and whether outbound GitHub calls
// deserve their own spans.
package telemetry

import (
	"context"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Mode selects how aggressively spans are sampled.
type Mode string

const (
	// ModeOff emits no spans at all.
	ModeOff Mode = "off"
	// ModeErrors keeps a small trickle of traces so error spans have context.
	ModeErrors Mode = "errors"
	// ModeSampled records a configurable ratio of requests.
	ModeSampled Mode = "sampled"
	// ModeDetailed records everything, including dependency spans.
	ModeDetailed Mode = "detailed"
)

// errorsModeFloor keeps ModeErrors from sampling nothing when the
// configured ratio is zero.
const errorsModeFloor = 0.01

// ParseMode maps a config string onto a Mode. Unknown values fall back to
// ModeSampled rather than silently disabling tracing.
func ParseMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeOff:
		return ModeOff
	case ModeErrors:
		return ModeErrors
	case ModeDetailed:
		return ModeDetailed
	default:
		return ModeSampled
	}
}

// sampler builds the SDK sampler for a mode. Ratio is clamped to [0, 1].
func (m Mode) sampler(ratio float64) sdktrace.Sampler {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	switch m {
	case ModeOff:
		return sdktrace.NeverSample()
	case ModeDetailed:
		return sdktrace.AlwaysSample()
	case ModeErrors:
		if ratio < errorsModeFloor {
			ratio = errorsModeFloor
		}
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

var activeMode atomic.Value

// TraceMode reports the mode the last Setup call installed.
func TraceMode() Mode {
	mode, ok := activeMode.Load().(Mode)
	if !ok {
		return ModeOff
	}
	return mode
}

// ShouldTraceDependencies reports whether outbound dependency calls get
// their own spans. Only ModeDetailed pays that cost.
func ShouldTraceDependencies() bool {
	return TraceMode() == ModeDetailed
}

// Config configures tracing setup.
type Config struct {
	Enabled          bool
	ServiceName      string
	TraceMode        string
	TraceSampleRatio float64
}

// Runtime holds the installed provider and its shutdown hook.
type Runtime struct {
	TracerProvider *sdktrace.TracerProvider
	Shutdown       func(ctx context.Context) error
}

// Setup installs the global tracer provider and records the active mode.
// Disabled telemetry still installs a provider so callers can start spans
// unconditionally; the sampler just drops them.
func Setup(cfg Config) (Runtime, error) {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "streakd"
	}

	mode := ParseMode(cfg.TraceMode)
	if !cfg.Enabled {
		mode = ModeOff
	}
	activeMode.Store(mode)

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		return Runtime{}, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(mode.sampler(cfg.TraceSampleRatio)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return Runtime{
		TracerProvider: provider,
		Shutdown:       provider.Shutdown,
	}, nil
}
