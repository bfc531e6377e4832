package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/convoy/internal/scheduler"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a YAML or TOML config file (chosen by extension), merges its
// includes, applies defaults, verifies checksums and validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadTree(absPath)
	if err != nil {
		return nil, err
	}
	cfg = applyConfigDefaults(cfg)

	if err := verifyAllConfigHashes(cfg.SourceFiles); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverFiles returns every file in the include tree of configPath, root
// first, without verifying checksums.
func DiscoverFiles(configPath string) ([]string, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := loadTree(absPath)
	if err != nil {
		return nil, err
	}
	return cfg.SourceFiles, nil
}

func loadTree(absPath string) (*Config, error) {
	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	visited := map[string]bool{absPath: true}
	cfg.SourceFiles = []string{absPath}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// resolveConfigPath accepts a file, or a directory holding config.yaml or
// config.toml.
func resolveConfigPath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if !info.IsDir() {
		return absPath, nil
	}
	for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
		candidate := filepath.Join(absPath, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("directory provided but no config.yaml or config.toml found in %s", absPath)
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)

		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}
		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true
		cfg.SourceFiles = append(cfg.SourceFiles, absPath)

		included, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		if err := deepMergeConfig(cfg, included); err != nil {
			return fmt.Errorf("include[%d] (%s): merge failed: %w", i, includePath, err)
		}
		if len(included.Include) > 0 {
			if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadConfigFile parses a single file after env interpolation. Unknown keys
// are rejected so typos surface at load time.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	interpolated := interpolateEnv(string(data))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(interpolated, &cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown TOML keys: %v", undecoded)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolated)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	return &cfg, nil
}

// deepMergeConfig merges src into dst, with src taking precedence for non-zero values.
func deepMergeConfig(dst, src *Config) error {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.TickInterval != 0 {
		dst.Service.TickInterval = src.Service.TickInterval
	}
	if src.Service.TimeScale != 0 {
		dst.Service.TimeScale = src.Service.TimeScale
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.LogFormat != "" {
		dst.Service.LogFormat = src.Service.LogFormat
	}
	if src.Service.SnapshotInterval != 0 {
		dst.Service.SnapshotInterval = src.Service.SnapshotInterval
	}

	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}
	if src.State.HistorySize != nil {
		dst.State.HistorySize = src.State.HistorySize
	}
	if src.State.Journal != nil {
		dst.State.Journal = src.State.Journal
	}
	if src.State.LogRetention != 0 {
		dst.State.LogRetention = src.State.LogRetention
	}

	if src.API.Enabled {
		dst.API.Enabled = true
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.Auth.APIKey != "" {
		dst.API.Auth.APIKey = src.API.Auth.APIKey
	}
	dst.API.Auth.Tokens = append(dst.API.Auth.Tokens, src.API.Auth.Tokens...)
	if src.API.SubmitRate != 0 {
		dst.API.SubmitRate = src.API.SubmitRate
	}
	if src.API.SubmitBurst != 0 {
		dst.API.SubmitBurst = src.API.SubmitBurst
	}

	for id, p := range src.Pools {
		if dst.Pools == nil {
			dst.Pools = make(map[string]PoolConf)
		}
		if _, exists := dst.Pools[id]; exists {
			return fmt.Errorf("pool %q is defined more than once", id)
		}
		dst.Pools[id] = p
	}
	dst.Recurring = append(dst.Recurring, src.Recurring...)

	if src.Webhooks.Enabled {
		dst.Webhooks.Enabled = true
	}
	if src.Webhooks.Listen != "" {
		dst.Webhooks.Listen = src.Webhooks.Listen
	}
	dst.Webhooks.Endpoints = append(dst.Webhooks.Endpoints, src.Webhooks.Endpoints...)
	return nil
}

func verifyAllConfigHashes(paths []string) error {
	// Group paths by directory to avoid loading the same checksums file multiple times
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		checksums, err := LoadChecksums(dir)
		if err != nil {
			// No .checksums means the directory is not locked.
			continue
		}
		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: convoy config lock --config %s", basename, dir, paths[0])
			}
			if err := VerifyFileHash(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"If you edited this file intentionally, run: convoy config lock --config %s", path, err, paths[0])
			}
		}
	}
	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.TickInterval == 0 {
		cfg.Service.TickInterval = defaults.Service.TickInterval
	}
	if cfg.Service.TimeScale == 0 {
		cfg.Service.TimeScale = defaults.Service.TimeScale
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.SnapshotInterval == 0 {
		cfg.Service.SnapshotInterval = defaults.Service.SnapshotInterval
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.State.HistorySize == nil {
		cfg.State.HistorySize = defaults.State.HistorySize
	}
	if cfg.State.Journal == nil {
		cfg.State.Journal = defaults.State.Journal
	}
	if cfg.State.LogRetention == 0 {
		cfg.State.LogRetention = defaults.State.LogRetention
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.SubmitRate == 0 {
		cfg.API.SubmitRate = defaults.API.SubmitRate
	}
	if cfg.API.SubmitBurst == 0 {
		cfg.API.SubmitBurst = defaults.API.SubmitBurst
	}

	if cfg.Webhooks.Listen == "" {
		cfg.Webhooks.Listen = defaults.Webhooks.Listen
	}

	if cfg.Pools == nil {
		cfg.Pools = make(map[string]PoolConf)
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place; validate reports it if it lands in a secret.
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Service.TickInterval <= 0 {
		return fmt.Errorf("service.tick_interval must be positive")
	}
	if cfg.Service.TimeScale <= 0 {
		return fmt.Errorf("service.time_scale must be positive (got %v)", cfg.Service.TimeScale)
	}
	if cfg.Service.SnapshotInterval < 0 {
		return fmt.Errorf("service.snapshot_interval must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if *cfg.State.HistorySize < 0 {
		return fmt.Errorf("state.history_size must not be negative")
	}

	if cfg.API.Enabled {
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d].token", i)
			if tok.Token == "" {
				return fmt.Errorf("%s is required", field)
			}
			if err := unresolved(field, tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
		if cfg.API.SubmitRate < 0 {
			return fmt.Errorf("api.submit_rate must not be negative")
		}
	}

	for _, id := range cfg.SortedPoolIDs() {
		if err := cfg.Pools[id].PoolConfig(id).Validate(); err != nil {
			return fmt.Errorf("pools.%s: %w", id, err)
		}
	}

	seen := make(map[string]bool, len(cfg.Recurring))
	for i, r := range cfg.Recurring {
		if r.Name == "" {
			return fmt.Errorf("recurring[%d].name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("recurring[%d]: duplicate name %q", i, r.Name)
		}
		seen[r.Name] = true
		if err := scheduler.ValidateSchedule(r.Schedule); err != nil {
			return fmt.Errorf("recurring %q: %w", r.Name, err)
		}
		if _, ok := cfg.Pools[r.Task.Pool]; !ok {
			return fmt.Errorf("recurring %q: task.pool %q is not a configured pool", r.Name, r.Task.Pool)
		}
		if err := r.Task.Validate(); err != nil {
			return fmt.Errorf("recurring %q: %w", r.Name, err)
		}
	}

	if cfg.Webhooks.Enabled {
		paths := make(map[string]bool, len(cfg.Webhooks.Endpoints))
		for i, ep := range cfg.Webhooks.Endpoints {
			if !strings.HasPrefix(ep.Path, "/") {
				return fmt.Errorf("webhooks.endpoints[%d].path must start with /", i)
			}
			if paths[ep.Path] {
				return fmt.Errorf("webhooks.endpoints[%d]: duplicate path %q", i, ep.Path)
			}
			paths[ep.Path] = true
			if ep.Secret == "" {
				return fmt.Errorf("webhook %s: secret is required", ep.Path)
			}
			if err := unresolved("webhook "+ep.Path+" secret", ep.Secret); err != nil {
				return err
			}
			if _, ok := cfg.Pools[ep.Task.Pool]; !ok {
				return fmt.Errorf("webhook %s: task.pool %q is not a configured pool", ep.Path, ep.Task.Pool)
			}
			if err := ep.Task.Validate(); err != nil {
				return fmt.Errorf("webhook %s: %w", ep.Path, err)
			}
		}
	}
	return nil
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}
