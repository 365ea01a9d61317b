// ABOUTME: Configuration for the store's telemetry pipeline: exporters, sampling and batching
// ABOUTME: Values come from defaults and may be overridden by TINYNVS_TELEMETRY_* environment variables

package telemetry

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "TINYNVS_TELEMETRY_"

// Config holds all configuration for telemetry providers and exporters.
type Config struct {
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`

	// Enabled controls whether telemetry is active. A disabled config yields a no-op.
	Enabled bool `json:"enabled"`

	// Exporters lists the destinations to use (otlp, stdout)
	Exporters []string `json:"exporters"`

	// SampleRate controls trace sampling (0.0 to 1.0)
	SampleRate float64 `json:"sample_rate"`

	// OTLPEndpoint is the host:port of an OTLP gRPC collector
	OTLPEndpoint string `json:"otlp_endpoint"`

	MetricInterval     time.Duration `json:"metric_interval"`
	ExportTimeout      time.Duration `json:"export_timeout"`
	BatchTimeout       time.Duration `json:"batch_timeout"`
	MaxQueueSize       int           `json:"max_queue_size"`
	MaxExportBatchSize int           `json:"max_export_batch_size"`
}

// DefaultConfig returns a configuration with telemetry switched off.
func DefaultConfig() Config {
	return Config{
		ServiceName:        "tinynvs",
		ServiceVersion:     "development",
		Enabled:            false,
		Exporters:          []string{"stdout"},
		SampleRate:         1.0,
		OTLPEndpoint:       "localhost:4317",
		MetricInterval:     30 * time.Second,
		ExportTimeout:      30 * time.Second,
		BatchTimeout:       5 * time.Second,
		MaxQueueSize:       2048,
		MaxExportBatchSize: 512,
	}
}

// LoadFromEnv overrides fields from the environment. Unparseable values are ignored.
func (c *Config) LoadFromEnv() {
	if val := os.Getenv(envPrefix + "SERVICE_NAME"); val != "" {
		c.ServiceName = val
	}
	if val := os.Getenv(envPrefix + "SERVICE_VERSION"); val != "" {
		c.ServiceVersion = val
	}
	if val := os.Getenv(envPrefix + "ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Enabled = enabled
		}
	}
	if val := os.Getenv(envPrefix + "EXPORTERS"); val != "" {
		c.Exporters = c.Exporters[:0]
		for _, name := range strings.Split(val, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.Exporters = append(c.Exporters, name)
			}
		}
	}
	if val := os.Getenv(envPrefix + "SAMPLE_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.SampleRate = rate
		}
	}
	if val := os.Getenv(envPrefix + "OTLP_ENDPOINT"); val != "" {
		c.OTLPEndpoint = val
	}
	envDuration(envPrefix+"METRIC_INTERVAL", &c.MetricInterval)
	envDuration(envPrefix+"EXPORT_TIMEOUT", &c.ExportTimeout)
	envDuration(envPrefix+"BATCH_TIMEOUT", &c.BatchTimeout)
	envInt(envPrefix+"MAX_QUEUE_SIZE", &c.MaxQueueSize)
	envInt(envPrefix+"MAX_EXPORT_BATCH_SIZE", &c.MaxExportBatchSize)
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name cannot be empty")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version cannot be empty")
	}
	if c.SampleRate < 0.0 || c.SampleRate > 1.0 {
		return fmt.Errorf("sample_rate must be between 0.0 and 1.0, got %f", c.SampleRate)
	}
	if c.MetricInterval <= 0 {
		return fmt.Errorf("metric_interval must be positive, got %s", c.MetricInterval)
	}
	if c.ExportTimeout <= 0 {
		return fmt.Errorf("export_timeout must be positive, got %s", c.ExportTimeout)
	}
	if c.BatchTimeout <= 0 {
		return fmt.Errorf("batch_timeout must be positive, got %s", c.BatchTimeout)
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("max_queue_size must be positive, got %d", c.MaxQueueSize)
	}
	if c.MaxExportBatchSize <= 0 || c.MaxExportBatchSize > c.MaxQueueSize {
		return fmt.Errorf("max_export_batch_size must be in (0, max_queue_size], got %d", c.MaxExportBatchSize)
	}
	for _, exporter := range c.Exporters {
		switch exporter {
		case "otlp", "stdout":
		default:
			return fmt.Errorf("invalid exporter: %s, valid options are: otlp, stdout", exporter)
		}
	}
	if c.HasExporter("otlp") && c.OTLPEndpoint == "" {
		return fmt.Errorf("otlp exporter requires otlp_endpoint")
	}
	return nil
}

// HasExporter returns true if the specified exporter is configured.
func (c *Config) HasExporter(name string) bool {
	for _, exporter := range c.Exporters {
		if exporter == name {
			return true
		}
	}
	return false
}
