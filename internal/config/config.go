package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Auth header policies understood by the backend client.
const (
	AuthPolicyNone  = "none"
	AuthPolicyKeyed = "keyed"
)

// Analytics sinks.
const (
	SinkLog     = "log"
	SinkKafka   = "kafka"
	SinkSegment = "segment"
)

// Configuration is the process-wide static configuration. It is loaded once at
// start and treated as read-only afterwards.
type Configuration struct {
	Service       ServiceConfig
	Backend       BackendConfig
	Features      FeatureConfig
	Session       SessionConfig
	Analytics     AnalyticsConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal   string
	HTTPPort    string
	GRPCPort    string
	MetricsPort string
}

// BackendConfig describes the remote transcription/analysis API.
type BackendConfig struct {
	BaseURL           string
	AuthPolicy        string
	TranscribeTimeout time.Duration
	RequestTimeout    time.Duration
}

type FeatureConfig struct {
	Embeddings   bool
	AllowRawHTML bool
}

type SessionConfig struct {
	IdleTTL        time.Duration
	MaxUploadBytes int64
}

// AnalyticsConfig selects where analytics events go.
type AnalyticsConfig struct {
	Enabled  bool
	Sink     string
	WriteKey string
	Endpoint string
}

type KafkaConfig struct {
	Brokers   []string
	Topic     string
	Principal string
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment. Values that fail to
// parse fall back to their defaults.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-call-console")

	return &Configuration{
		Service: ServiceConfig{
			Principal:   principal,
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
		Backend: BackendConfig{
			BaseURL:           strings.TrimRight(envOrDefault("BACKEND_URL", "http://localhost:8000"), "/"),
			AuthPolicy:        strings.ToLower(envOrDefault("AUTH_POLICY", AuthPolicyNone)),
			TranscribeTimeout: envOrDefaultDuration("BACKEND_TRANSCRIBE_TIMEOUT", 60*time.Second),
			RequestTimeout:    envOrDefaultDuration("BACKEND_REQUEST_TIMEOUT", 30*time.Second),
		},
		Features: FeatureConfig{
			Embeddings:   envOrDefaultBool("FEATURE_EMBEDDINGS", true),
			AllowRawHTML: envOrDefaultBool("ALLOW_RAW_HTML", false),
		},
		Session: SessionConfig{
			IdleTTL:        envOrDefaultDuration("SESSION_IDLE_TTL", 30*time.Minute),
			MaxUploadBytes: envOrDefaultInt64("MAX_UPLOAD_BYTES", 100*1024*1024),
		},
		Analytics: AnalyticsConfig{
			Enabled:  envOrDefaultBool("ANALYTICS_ENABLED", true),
			Sink:     strings.ToLower(envOrDefault("ANALYTICS_SINK", SinkLog)),
			WriteKey: os.Getenv("ANALYTICS_WRITE_KEY"),
			Endpoint: os.Getenv("ANALYTICS_ENDPOINT"),
		},
		Kafka: KafkaConfig{
			Brokers:   envOrDefaultList("KAFKA_BROKERS"),
			Topic:     envOrDefault("ANALYTICS_TOPIC", "call-console.analytics"),
			Principal: envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:  strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
			LogFormat: strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		},
	}
}

// Validate reports configuration that cannot be served.
func (c *Configuration) Validate() error {
	var errs []error
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("BACKEND_URL must not be empty"))
	}
	switch c.Backend.AuthPolicy {
	case AuthPolicyNone, AuthPolicyKeyed:
	default:
		errs = append(errs, fmt.Errorf("unknown AUTH_POLICY %q", c.Backend.AuthPolicy))
	}
	if c.Analytics.Enabled {
		switch c.Analytics.Sink {
		case SinkLog:
		case SinkKafka:
			if len(c.Kafka.Brokers) == 0 {
				errs = append(errs, errors.New("KAFKA_BROKERS required for kafka analytics sink"))
			}
		case SinkSegment:
			if c.Analytics.WriteKey == "" {
				errs = append(errs, errors.New("ANALYTICS_WRITE_KEY required for segment analytics sink"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown ANALYTICS_SINK %q", c.Analytics.Sink))
		}
	}
	if c.Session.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envOrDefaultList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
