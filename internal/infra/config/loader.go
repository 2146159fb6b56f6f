// Package config loads the toolgate YAML configuration file, expands
// environment references, validates the result, and layers the feature
// flag environment overrides on top.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/envutil"
)

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("config")}
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setConfigDefaults(v)
	return v
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("serviceMap.timeoutSeconds", domain.DefaultManifestTimeoutSeconds)
	v.SetDefault("connector.connectTimeoutSeconds", domain.DefaultConnectTimeoutSeconds)
	v.SetDefault("connector.callTimeoutSeconds", domain.DefaultCallTimeoutSeconds)
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityListenAddress)
}

type rawConfig struct {
	ServiceMap    rawServiceMapConfig    `mapstructure:"serviceMap"`
	Connector     rawConnectorConfig     `mapstructure:"connector"`
	CachePath     string                 `mapstructure:"cachePath"`
	Observability rawObservabilityConfig `mapstructure:"observability"`
	Flags         rawFlagsConfig         `mapstructure:"flags"`
}

type rawServiceMapConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	SigningKey     string `mapstructure:"signingKey"`
	APIKey         string `mapstructure:"apiKey"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
}

type rawConnectorConfig struct {
	APIKey                string `mapstructure:"apiKey"`
	ConnectTimeoutSeconds int    `mapstructure:"connectTimeoutSeconds"`
	CallTimeoutSeconds    int    `mapstructure:"callTimeoutSeconds"`
}

type rawObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
	Metrics       *bool  `mapstructure:"metrics"`
	Healthz       *bool  `mapstructure:"healthz"`
	DebugLogs     *bool  `mapstructure:"debugLogs"`
}

type rawFlagsConfig struct {
	AsyncRefresh      *bool `mapstructure:"asyncRefresh"`
	RefreshIntervalMs *int  `mapstructure:"refreshIntervalMs"`
}

// Load reads and validates the configuration file at path. Validation
// failures are collected and reported together. Feature flag environment
// variables override the file values; unparseable environment values keep
// whatever the file resolved.
func (l *Loader) Load(ctx context.Context, path string) (domain.Config, error) {
	if path == "" {
		return domain.Config{}, errors.New("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Config{}, fmt.Errorf("read config: %w", err)
	}

	expanded, missing, err := expandEnv(data)
	if err != nil {
		return domain.Config{}, err
	}
	if len(missing) > 0 {
		l.logger.Warn("missing environment variables in config", zap.String("path", path), zap.Strings("missing", missing))
	}

	v := newConfigViper()
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return domain.Config{}, fmt.Errorf("parse config: %w", err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return domain.Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return domain.Config{}, err
	}

	cfg, validationErrors := normalizeConfig(raw)
	if len(validationErrors) > 0 {
		return domain.Config{}, errors.New(strings.Join(validationErrors, "; "))
	}

	cfg.Flags = applyFlagEnvOverrides(cfg.Flags)
	return cfg, nil
}

func normalizeConfig(raw rawConfig) (domain.Config, []string) {
	var errs []string

	serviceMap, serviceMapErrs := normalizeServiceMap(raw.ServiceMap)
	errs = append(errs, serviceMapErrs...)

	connector, connectorErrs := normalizeConnector(raw.Connector)
	errs = append(errs, connectorErrs...)

	flags, flagErrs := normalizeFlags(raw.Flags)
	errs = append(errs, flagErrs...)

	return domain.Config{
		ServiceMap:    serviceMap,
		Connector:     connector,
		CachePath:     strings.TrimSpace(raw.CachePath),
		Observability: normalizeObservability(raw.Observability),
		Flags:         flags,
	}, errs
}

func normalizeServiceMap(raw rawServiceMapConfig) (domain.ServiceMapSource, []string) {
	var errs []string

	endpoint := strings.TrimSpace(raw.Endpoint)
	if endpoint == "" {
		errs = append(errs, "serviceMap.endpoint is required")
	} else if strings.Contains(endpoint, "://") {
		if parsed, err := url.ParseRequestURI(endpoint); err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			errs = append(errs, "serviceMap.endpoint must be a valid http(s) URL or a file path")
		}
	}

	signingKey := strings.TrimSpace(raw.SigningKey)
	if signingKey == "" {
		errs = append(errs, "serviceMap.signingKey is required")
	}

	if raw.TimeoutSeconds <= 0 {
		errs = append(errs, "serviceMap.timeoutSeconds must be > 0")
	}

	return domain.ServiceMapSource{
		Endpoint:   endpoint,
		SigningKey: signingKey,
		APIKey:     strings.TrimSpace(raw.APIKey),
		Timeout:    time.Duration(raw.TimeoutSeconds) * time.Second,
	}, errs
}

func normalizeConnector(raw rawConnectorConfig) (domain.ConnectorDefaults, []string) {
	var errs []string

	if raw.ConnectTimeoutSeconds <= 0 {
		errs = append(errs, "connector.connectTimeoutSeconds must be > 0")
	}
	if raw.CallTimeoutSeconds <= 0 {
		errs = append(errs, "connector.callTimeoutSeconds must be > 0")
	}

	return domain.ConnectorDefaults{
		APIKey:         strings.TrimSpace(raw.APIKey),
		ConnectTimeout: time.Duration(raw.ConnectTimeoutSeconds) * time.Second,
		CallTimeout:    time.Duration(raw.CallTimeoutSeconds) * time.Second,
	}, errs
}

func normalizeObservability(raw rawObservabilityConfig) domain.ObservabilityConfig {
	addr := strings.TrimSpace(raw.ListenAddress)
	if addr == "" {
		addr = domain.DefaultObservabilityListenAddress
	}
	return domain.ObservabilityConfig{
		ListenAddress:    addr,
		MetricsEnabled:   raw.Metrics,
		HealthzEnabled:   raw.Healthz,
		DebugLogsEnabled: raw.DebugLogs,
	}
}

func normalizeFlags(raw rawFlagsConfig) (domain.FeatureFlags, []string) {
	var errs []string

	flags := domain.DefaultFeatureFlags()
	if raw.AsyncRefresh != nil {
		flags.AsyncRefresh = *raw.AsyncRefresh
	}
	if raw.RefreshIntervalMs != nil {
		if *raw.RefreshIntervalMs < 1 {
			errs = append(errs, "flags.refreshIntervalMs must be >= 1")
		} else {
			flags.RefreshInterval = time.Duration(*raw.RefreshIntervalMs) * time.Millisecond
		}
	}
	return flags, errs
}

// applyFlagEnvOverrides layers the flag environment variables over the file
// values. A value that does not parse leaves the file value in place; flags
// never fail startup.
func applyFlagEnvOverrides(flags domain.FeatureFlags) domain.FeatureFlags {
	flags.AsyncRefresh = envutil.BoolOr(domain.AsyncRefreshFlag, flags.AsyncRefresh)
	intervalMs := envutil.PositiveIntOr(domain.RefreshIntervalFlag, int(flags.RefreshInterval/time.Millisecond))
	flags.RefreshInterval = time.Duration(intervalMs) * time.Millisecond
	return flags
}
