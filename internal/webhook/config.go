package webhook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/convoy/internal/config"
)

// FromGlobalConfig converts config.WebhooksConfig to webhook.Config and
// parses max body sizes.
func FromGlobalConfig(wc config.WebhooksConfig) (Config, error) {
	cfg := Config{
		Listen:    wc.Listen,
		Endpoints: make([]EndpointConfig, len(wc.Endpoints)),
	}

	for i, ep := range wc.Endpoints {
		if ep.Secret == "" {
			return Config{}, fmt.Errorf("webhook endpoint %q: no secret configured", ep.Path)
		}

		// Parse max body size (e.g., "1MB", "2048576")
		maxBodySize, err := parseMaxBodySize(ep.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: invalid max_body_size %q: %w", ep.Path, ep.MaxBodySize, err)
		}

		cfg.Endpoints[i] = EndpointConfig{
			Path:            ep.Path,
			Secret:          ep.Secret,
			SignatureHeader: ep.SignatureHeader,
			MaxBodySize:     maxBodySize,
			Task:            ep.Task.Clone(),
		}
	}

	return cfg, nil
}

// parseMaxBodySize parses size strings like "1MB", "64KB", "1048576" to bytes.
// Returns DefaultMaxBodySize if empty.
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
