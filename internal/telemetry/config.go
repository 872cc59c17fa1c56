package telemetry

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ratlr/internal/config"
)

// ErrInvalidConfig is returned for telemetry settings that cannot be used.
var ErrInvalidConfig = errors.New("invalid telemetry configuration")

// Export protocols.
const (
	ProtocolGRPC   = "grpc"
	ProtocolHTTP   = "http/protobuf"
	ProtocolStdout = "stdout"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	Endpoint       string
	Protocol       string
	ServiceName    string
	ServiceVersion string
	// Insecure disables TLS. Only loopback endpoints may use it.
	Insecure bool
	// SampleRate is the fraction of root spans kept, 0 to 1.
	SampleRate      float64
	Metrics         bool
	MetricsInterval time.Duration
	ShutdownTimeout time.Duration
}

// NewDefaultConfig returns telemetry defaults. Telemetry is off unless a
// run configuration enables it.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint:        "localhost:4317",
		Protocol:        ProtocolGRPC,
		ServiceName:     "ratlr",
		ServiceVersion:  "dev",
		Insecure:        true,
		SampleRate:      1,
		Metrics:         true,
		MetricsInterval: 15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// FromRunConfig maps the telemetry section of a run configuration.
func FromRunConfig(rc config.TelemetryConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = rc.Enabled
	cfg.Insecure = rc.Insecure
	if rc.Endpoint != "" {
		cfg.Endpoint = rc.Endpoint
	}
	if rc.Protocol != "" {
		cfg.Protocol = rc.Protocol
	}
	if rc.ServiceName != "" {
		cfg.ServiceName = rc.ServiceName
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	if rc.Shutdown > 0 {
		cfg.ShutdownTimeout = rc.Shutdown.Duration()
	}
	return cfg
}

// Validate checks an enabled configuration. Disabled telemetry is always
// valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var problem string
	switch {
	case c.Protocol != ProtocolGRPC && c.Protocol != ProtocolHTTP && c.Protocol != ProtocolStdout:
		problem = fmt.Sprintf("protocol must be %s, %s or %s, got %q", ProtocolGRPC, ProtocolHTTP, ProtocolStdout, c.Protocol)
	case c.Protocol != ProtocolStdout && c.Endpoint == "":
		problem = "endpoint is required"
	case c.ServiceName == "" || c.ServiceVersion == "":
		problem = "service name and version are required"
	case c.Protocol != ProtocolStdout && c.Insecure && !isLoopback(c.Endpoint):
		problem = fmt.Sprintf("insecure export to %s is only allowed for loopback endpoints", c.Endpoint)
	case c.SampleRate < 0 || c.SampleRate > 1:
		problem = fmt.Sprintf("sample rate must be between 0 and 1, got %g", c.SampleRate)
	case c.Metrics && c.MetricsInterval <= 0:
		problem = "metrics interval must be positive"
	case c.ShutdownTimeout <= 0:
		problem = "shutdown timeout must be positive"
	default:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, problem)
}

func isLoopback(endpoint string) bool {
	host := stripScheme(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// stripScheme reduces an endpoint URL to host:port, the form the OTLP
// exporters expect.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
