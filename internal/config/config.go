package config

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Authorization AuthorizationConfig
	Observe       ObserveConfig
	Server        ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHttpMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHttpMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

type AuthorizationConfig struct {
	Audience      string `env:"JWT_AUDIENCE, required"`
	Issuer        string `env:"JWT_ISSUER"`
	WhitelistPath string `env:"WHITELIST_PATH, required"`
	DocsURL       string `env:"DOCS_URL"`

	KeySetCacheTTLSeconds     int `env:"JWKS_CACHE_TTL_SECS, default=300"`
	KeySetFetchTimeoutSeconds int `env:"JWKS_FETCH_TIMEOUT_SECS, default=10"`
	ClockSkewSeconds          int `env:"JWT_CLOCK_SKEW_SECS, default=5"`
}

func (c AuthorizationConfig) KeySetCacheTTL() time.Duration {
	return time.Duration(c.KeySetCacheTTLSeconds) * time.Second
}

func (c AuthorizationConfig) KeySetFetchTimeout() time.Duration {
	return time.Duration(c.KeySetFetchTimeoutSeconds) * time.Second
}

func (c AuthorizationConfig) ClockSkew() time.Duration {
	return time.Duration(c.ClockSkewSeconds) * time.Second
}

type ObserveConfig struct {
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_OTEL_SERVICE_NAME, default=bearer-gate"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HttpTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HttpConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (cfg Config, err error) {
	err = envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	})
	if err != nil {
		return
	}

	err = cfg.validate()
	return
}

func (cfg Config) validate() error {
	var errs []error

	if cfg.Authorization.KeySetFetchTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("JWKS_FETCH_TIMEOUT_SECS must be positive"))
	}
	if cfg.Authorization.KeySetCacheTTLSeconds <= 0 {
		errs = append(errs, errors.New("JWKS_CACHE_TTL_SECS must be positive"))
	}
	if cfg.Authorization.ClockSkewSeconds < 0 {
		errs = append(errs, errors.New("JWT_CLOCK_SKEW_SECS must not be negative"))
	}

	return errors.Join(errs...)
}
