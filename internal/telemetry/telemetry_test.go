package telemetry

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		raw  string
		want Mode
	}{
		{raw: "off", want: ModeOff},
		{raw: " Errors ", want: ModeErrors},
		{raw: "sampled", want: ModeSampled},
		{raw: "DETAILED", want: ModeDetailed},
		{raw: "", want: ModeSampled},
		{raw: "bogus", want: ModeSampled},
	}
	for _, tc := range testCases {
		if got := ParseMode(tc.raw); got != tc.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestModeSampler(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		mode     Mode
		ratio    float64
		wantDrop bool
	}{
		{name: "off_drops", mode: ModeOff, ratio: 0.5, wantDrop: true},
		{name: "sampled_zero_ratio_drops", mode: ModeSampled, ratio: 0, wantDrop: true},
		{name: "sampled_full_ratio_records", mode: ModeSampled, ratio: 1, wantDrop: false},
		{name: "sampled_clamps_ratio_above_one", mode: ModeSampled, ratio: 4, wantDrop: false},
		{name: "detailed_always_records", mode: ModeDetailed, ratio: 0, wantDrop: false},
		{name: "errors_full_ratio_records", mode: ModeErrors, ratio: 1, wantDrop: false},
	}

	params := sdktrace.SamplingParameters{}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			decision := tc.mode.sampler(tc.ratio).ShouldSample(params).Decision
			if gotDrop := decision == sdktrace.Drop; gotDrop != tc.wantDrop {
				t.Fatalf("ShouldSample().Decision drop=%t, want %t", gotDrop, tc.wantDrop)
			}
		})
	}
}

func TestErrorsModeKeepsSamplingFloor(t *testing.T) {
	t.Parallel()

	// A zero ratio in errors mode must not collapse into NeverSample; the
	// floor keeps a trickle of traces alive.
	sampler := ModeErrors.sampler(0)
	if sampler.Description() == sdktrace.NeverSample().Description() {
		t.Fatalf("errors mode with zero ratio produced a drop-everything sampler")
	}
}

func TestSetup(t *testing.T) {
	testCases := []struct {
		name     string
		config   Config
		wantMode Mode
	}{
		{
			name: "disabled_forces_off",
			config: Config{
				Enabled:     false,
				ServiceName: "streakd",
				TraceMode:   "detailed",
			},
			wantMode: ModeOff,
		},
		{
			name: "enabled_sampled",
			config: Config{
				Enabled:          true,
				ServiceName:      "streakd",
				TraceMode:        "sampled",
				TraceSampleRatio: 0.25,
			},
			wantMode: ModeSampled,
		},
		{
			name: "enabled_detailed_traces_dependencies",
			config: Config{
				Enabled:     true,
				ServiceName: "streakd",
				TraceMode:   "detailed",
			},
			wantMode: ModeDetailed,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			runtime, err := Setup(tc.config)
			if err != nil {
				t.Fatalf("Setup() unexpected error: %v", err)
			}
			if runtime.TracerProvider == nil {
				t.Fatalf("TracerProvider is nil")
			}
			if got := TraceMode(); got != tc.wantMode {
				t.Fatalf("TraceMode() = %q, want %q", got, tc.wantMode)
			}
			if got, want := ShouldTraceDependencies(), tc.wantMode == ModeDetailed; got != want {
				t.Fatalf("ShouldTraceDependencies() = %t, want %t", got, want)
			}

			if err := runtime.Shutdown(context.Background()); err != nil {
				t.Fatalf("Shutdown() unexpected error: %v", err)
			}
		})
	}
}
