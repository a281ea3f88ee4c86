package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var knownBackends = map[string]struct{}{
	"leveldb": {},
	"bolt":    {},
	"memory":  {},
}

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	var errs []error
	if _, ok := knownBackends[strings.ToLower(strings.TrimSpace(cfg.StorageBackend))]; !ok {
		errs = append(errs, fmt.Errorf("StorageBackend: unknown backend %q", cfg.StorageBackend))
	}
	if _, _, err := net.SplitHostPort(cfg.RPCAddress); err != nil {
		errs = append(errs, fmt.Errorf("RPCAddress: %w", err))
	}
	if len(strings.TrimSpace(cfg.RPC.JWTSecret)) < 32 {
		errs = append(errs, errors.New("rpc.JWTSecret: must be at least 32 characters"))
	}
	if _, err := cfg.RPC.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Indexer.Enabled && strings.TrimSpace(cfg.Indexer.DSN) == "" {
		errs = append(errs, errors.New("indexer.DSN: required when the indexer is enabled"))
	}
	if strings.TrimSpace(cfg.Webhook.URL) != "" {
		if u, err := url.Parse(cfg.Webhook.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("webhook.URL: invalid endpoint %q", cfg.Webhook.URL))
		}
		if strings.TrimSpace(cfg.Webhook.Secret) == "" {
			errs = append(errs, errors.New("webhook.Secret: required when URL is set"))
		}
	}
	if cfg.Telemetry.EnableTraces || cfg.Telemetry.EnableMetrics {
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			errs = append(errs, errors.New("telemetry.OTLPEndpoint: required when exporters are enabled"))
		}
	}
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.TraceSampleRatio: %v outside [0,1]", r))
	}
	if _, err := cfg.Sale.Build(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.GenesisBalances(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
