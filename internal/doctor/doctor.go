// Package doctor reviews a loaded convoy configuration for problems that
// load-time validation does not reject: unknown token scopes, clashing
// listeners, schedules that outrun the tick loop and settings that lose
// state.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/mattjoyce/convoy/internal/auth"
	"github.com/mattjoyce/convoy/internal/config"
	"github.com/mattjoyce/convoy/internal/scheduler"
	"github.com/mattjoyce/convoy/internal/storage"
)

// coarseStep is the simulated time one tick may cover before a worker's
// one-phase-per-tick progress noticeably lags its timers.
const coarseStep = 5 * time.Second

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor reviews one configuration.
type Doctor struct {
	cfg *config.Config
	now func() time.Time
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, now: time.Now}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateWebhooks(r)
	d.validateRecurring(r)
	d.warnStateDurability(r)
	d.warnMissingEnvVars(r)
	d.warnDeprecatedSyntax(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	}
	if d.cfg.Service.TickInterval <= 0 {
		d.addError(r, "service", "service.tick_interval", "tick_interval must be positive")
		return
	}
	step := time.Duration(float64(d.cfg.Service.TickInterval) * d.cfg.Service.TimeScale)
	if step > coarseStep {
		d.addWarning(r, "service", "service.time_scale",
			fmt.Sprintf("each tick advances %s of simulated time; workers move one phase per tick, so short phases will overrun", step))
	}
	if len(d.cfg.Pools) == 0 {
		d.addWarning(r, "pools", "pools", "no pools configured; tasks are rejected until one is registered over the API")
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured; every request gets full access")
	}
	if d.cfg.Webhooks.Enabled && d.cfg.Webhooks.Listen == d.cfg.API.Listen {
		d.addError(r, "api", "webhooks.listen",
			fmt.Sprintf("webhooks and API both listen on %s", d.cfg.API.Listen))
	}
}

// validateTokenScopes checks every scope against the ones the API grants.
func (d *Doctor) validateTokenScopes(r *Result) {
	known := make(map[string]bool)
	var names []string
	for _, s := range auth.Scopes() {
		known[s.Name] = true
		names = append(names, s.Name)
	}
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if known[scope] {
				continue
			}
			d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
				fmt.Sprintf("unknown scope %q (expected one of: %s)", scope, strings.Join(names, ", ")))
		}
	}
}

func (d *Doctor) validateWebhooks(r *Result) {
	if !d.cfg.Webhooks.Enabled {
		return
	}
	if len(d.cfg.Webhooks.Endpoints) == 0 {
		d.addWarning(r, "webhooks", "webhooks.endpoints", "webhooks enabled but no endpoints configured")
	}
	seen := make(map[string]int)
	for i, ep := range d.cfg.Webhooks.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d]", i)
		if prev, ok := seen[ep.Path]; ok {
			d.addError(r, "webhooks", field+".path",
				fmt.Sprintf("path %q already used by webhooks.endpoints[%d]", ep.Path, prev))
		}
		seen[ep.Path] = i
		if _, ok := d.cfg.Pools[ep.Task.Pool]; !ok {
			d.addError(r, "webhooks", field+".task.pool",
				fmt.Sprintf("pool %q is not configured", ep.Task.Pool))
		}
		if len(ep.Secret) > 0 && len(ep.Secret) < 16 && !envVarRe.MatchString(ep.Secret) {
			d.addWarning(r, "webhooks", field+".secret", "secret is shorter than 16 characters")
		}
	}
}

// validateRecurring flags schedules that fire faster than the tick loop can
// hand the tasks out.
func (d *Doctor) validateRecurring(r *Result) {
	for i, job := range d.cfg.Recurring {
		field := fmt.Sprintf("recurring[%d].schedule", i)
		gap, err := scheduler.NextGap(job.Schedule, d.now())
		if err != nil {
			d.addError(r, "schedule", field, err.Error())
			continue
		}
		if _, ok := d.cfg.Pools[job.Task.Pool]; !ok {
			d.addError(r, "schedule", fmt.Sprintf("recurring[%d].task.pool", i),
				fmt.Sprintf("pool %q is not configured", job.Task.Pool))
		}
		if gap < d.cfg.Service.TickInterval {
			d.addWarning(r, "schedule", field,
				fmt.Sprintf("job %q fires every %s, faster than tick_interval %s", job.Name, gap, d.cfg.Service.TickInterval))
		} else if gap < time.Minute {
			d.addWarning(r, "schedule", field,
				fmt.Sprintf("job %q fires every %s (< 1m)", job.Name, gap))
		}
	}
}

func (d *Doctor) warnStateDurability(r *Result) {
	if storage.IsMemory(d.cfg.State.Path) {
		d.addWarning(r, "state", "state.path", "in-memory state is lost on exit")
	}
	if d.cfg.State.HistorySize != nil && *d.cfg.State.HistorySize == 0 {
		d.addWarning(r, "state", "state.history_size", "finished tasks are forgotten immediately; lookups by id return not found")
	}
	if d.cfg.State.Journal != nil && !*d.cfg.State.Journal {
		d.addWarning(r, "state", "state.journal", "task journal disabled; GET /log is unavailable")
	}
}

// warnMissingEnvVars warns about ${VAR} references where VAR is not set.
// Load only rejects them for listeners that are enabled.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	check := func(field, value string) {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			if _, ok := os.LookupEnv(m[1]); !ok {
				d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
	check("api.auth.api_key", d.cfg.API.Auth.APIKey)
	for i, token := range d.cfg.API.Auth.Tokens {
		check(fmt.Sprintf("api.auth.tokens[%d].token", i), token.Token)
	}
	for i, ep := range d.cfg.Webhooks.Endpoints {
		check(fmt.Sprintf("webhooks.endpoints[%d].secret", i), ep.Secret)
	}
}

// warnDeprecatedSyntax warns about legacy auth patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"api_key grants full access; migrate to tokens array with scopes")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
