package telemetry

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestConfigValidate(t *testing.T) {
	mutate := func(fn func(c *Config)) *Config {
		c := DefaultConfig()
		fn(c)
		return c
	}

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			config: DefaultConfig(),
		},
		{
			name:    "missing service name",
			config:  mutate(func(c *Config) { c.ServiceName = "" }),
			wantErr: true,
		},
		{
			name:    "bad log level",
			config:  mutate(func(c *Config) { c.Logging.Level = "verbose" }),
			wantErr: true,
		},
		{
			name:    "bad log format",
			config:  mutate(func(c *Config) { c.Logging.Format = "xml" }),
			wantErr: true,
		},
		{
			name: "bad exporter only matters when tracing is on",
			config: mutate(func(c *Config) {
				c.Tracing.Enabled = false
				c.Tracing.Exporter = "bogus"
			}),
		},
		{
			name: "bad exporter rejected when tracing is on",
			config: mutate(func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "bogus"
			}),
			wantErr: true,
		},
		{
			name:    "sampling rate out of range",
			config:  mutate(func(c *Config) { c.Tracing.SamplingRate = 1.5 }),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.level); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.Registry() != nil {
		t.Error("disabled metrics should have no registry")
	}

	// None of these should panic on the no-op collector.
	m.RecordFetchStarted("runtime")
	m.RecordFetchCompleted("runtime", "ok", time.Second)
	m.RecordFetchBytes("runtime", 1024)
	m.RecordChecksumFailure("runtime")
	m.RecordCompile("cpu", "ok", time.Second)
	m.RecordCacheHit("cpu", time.Millisecond, time.Second)
	m.RecordCacheMiss("cpu")
	m.RecordCacheError("read")
}

func TestDisabledTracerProducesSpans(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Enabled: false}, "forge", "test", "test")
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	ctx, span := tr.StartFetchSpan(t.Context(), "runtime", "0123456")
	if span == nil {
		t.Fatal("expected a span even with tracing disabled")
	}
	span.End()
	if err := tr.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
