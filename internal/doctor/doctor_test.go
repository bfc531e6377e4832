package doctor

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/convoy/internal/config"
	"github.com/mattjoyce/convoy/internal/queue"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.State.Path = "/tmp/convoy-test.db"
	cfg.Pools["trucks"] = config.PoolConf{Workers: 2}
	cfg.Recurring = []config.RecurringConf{{
		Name:     "restock",
		Schedule: "@every 5m",
		Task:     queue.Definition{Pool: "trucks"},
	}}
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig()).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_MissingStatePath(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.State.Path = ""
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "service", "state.path")
}

func TestValidate_CoarseTicks(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Service.TickInterval = time.Second
	cfg.Service.TimeScale = 60
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "service", "1m0s of simulated time")
}

func TestValidate_NoPools(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Pools = map[string]config.PoolConf{}
	cfg.Recurring = nil
	assertHasWarning(t, New(cfg).Validate(), "pools", "no pools configured")
}

func TestValidate_TokenScopes(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	cfg.API.Auth.Tokens = []config.APIToken{
		{Token: "a", Scopes: []string{"tasks:rw", "events:ro"}},
		{Token: "b", Scopes: []string{"*"}},
	}
	if r := New(cfg).Validate(); !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}

	cfg.API.Auth.Tokens = append(cfg.API.Auth.Tokens, config.APIToken{Token: "c", Scopes: []string{"trucks:rw"}})
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "token_scopes", `unknown scope "trucks:rw"`)
}

func TestValidate_APIWithoutAuth(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	assertHasWarning(t, New(cfg).Validate(), "api", "no authentication")
}

func TestValidate_ListenerClash(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Enabled = true
	cfg.API.Auth.Tokens = []config.APIToken{{Token: "a", Scopes: []string{"*"}}}
	cfg.Webhooks.Enabled = true
	cfg.Webhooks.Listen = cfg.API.Listen
	cfg.Webhooks.Endpoints = []config.WebhookEndpoint{{
		Path: "/hooks/a", Secret: "0123456789abcdef0", Task: queue.Definition{Pool: "trucks"},
	}}
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "api", "both listen on")
}

func TestValidate_Webhooks(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Webhooks.Enabled = true
	cfg.Webhooks.Endpoints = []config.WebhookEndpoint{
		{Path: "/hooks/a", Secret: "short", Task: queue.Definition{Pool: "trucks"}},
		{Path: "/hooks/a", Secret: "${HOOK_SECRET}", Task: queue.Definition{Pool: "boats"}},
	}
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "webhooks", "already used")
	assertHasError(t, r, "webhooks", `pool "boats"`)
	assertHasWarning(t, r, "webhooks", "shorter than 16")
}

func TestValidate_RecurringSchedules(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Service.TickInterval = 2 * time.Second
	cfg.Recurring = []config.RecurringConf{
		{Name: "fast", Schedule: "@every 1s", Task: queue.Definition{Pool: "trucks"}},
		{Name: "brisk", Schedule: "@every 30s", Task: queue.Definition{Pool: "trucks"}},
		{Name: "lost", Schedule: "@hourly", Task: queue.Definition{Pool: "boats"}},
		{Name: "broken", Schedule: "now and then", Task: queue.Definition{Pool: "trucks"}},
	}
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasWarning(t, r, "schedule", "faster than tick_interval")
	assertHasWarning(t, r, "schedule", `"brisk" fires every 30s`)
	assertHasError(t, r, "schedule", `pool "boats"`)
	assertHasError(t, r, "schedule", "invalid schedule")
}

func TestValidate_StateDurability(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.State.Path = ":memory:"
	zero := 0
	off := false
	cfg.State.HistorySize = &zero
	cfg.State.Journal = &off
	r := New(cfg).Validate()
	assertHasWarning(t, r, "state", "lost on exit")
	assertHasWarning(t, r, "state", "forgotten immediately")
	assertHasWarning(t, r, "state", "journal disabled")
}

func TestValidate_WarnMissingEnvVar(t *testing.T) {
	cfg := validConfig()
	cfg.API.Auth.Tokens = []config.APIToken{{Token: "${CONVOY_DOCTOR_UNSET}", Scopes: []string{"*"}}}
	assertHasWarning(t, New(cfg).Validate(), "env_vars", "${CONVOY_DOCTOR_UNSET}")
}

func TestValidate_WarnDeprecatedAPIKey(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.APIKey = "legacy"
	assertHasWarning(t, New(cfg).Validate(), "deprecated", "api_key")
}

func TestValidate_WarnBothAPIKeyAndTokens(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.APIKey = "legacy"
	cfg.API.Auth.Tokens = []config.APIToken{{Token: "a", Scopes: []string{"*"}}}
	assertHasWarning(t, New(cfg).Validate(), "deprecated", "both")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Message: "bad thing", Field: "x"}},
		Warnings: []Issue{{Category: "test", Message: "meh"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	var decoded Result
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Valid || len(decoded.Errors) != 1 || len(decoded.Warnings) != 1 {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	out := FormatHuman(&Result{Valid: true})
	if !strings.Contains(out, "Configuration valid.") {
		t.Errorf("expected valid message, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "schedule", Field: "recurring[0].schedule", Message: "bad"}},
		Warnings: []Issue{{Category: "state", Message: "careful"}},
	}
	out := FormatHuman(r)
	for _, want := range []string{
		"Configuration invalid (1 error(s), 1 warning(s))",
		"ERROR [schedule] recurring[0].schedule: bad",
		"WARN  [state] careful",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
