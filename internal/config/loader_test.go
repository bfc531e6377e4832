package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/convoy/internal/geom"
	"github.com/mattjoyce/convoy/internal/queue"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const yamlConfig = `
service:
  name: depot
  tick_interval: 250ms
  time_scale: 4
  log_level: debug
state:
  path: ./var/depot.db
  history_size: 0
api:
  enabled: true
  listen: 127.0.0.1:9090
  auth:
    tokens:
      - token: ${CONVOY_TEST_TOKEN}
        scopes: ["tasks:rw"]
pools:
  trucks:
    name: Delivery trucks
    workers: 3
    home: {x: 1, y: 0, z: 2}
    travel_speed: 2
  ambulances:
    workers: 1
recurring:
  - name: restock
    schedule: "@every 1m"
    task:
      pool: trucks
      type: restock
      priority: 2
      travel_seconds: 30
      process_seconds: 10
      return_seconds: 30
      rewards: {gold: 5}
`

func TestLoadYAML(t *testing.T) {
	t.Setenv("CONVOY_TEST_TOKEN", "s3cret")
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", yamlConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "depot", cfg.Service.Name)
	assert.Equal(t, 250*time.Millisecond, cfg.Service.TickInterval)
	assert.Equal(t, 4.0, cfg.Service.TimeScale)
	assert.Equal(t, "json", cfg.Service.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.Service.SnapshotInterval)
	require.NotNil(t, cfg.State.HistorySize)
	assert.Equal(t, 0, *cfg.State.HistorySize)
	assert.True(t, *cfg.State.Journal)
	assert.Equal(t, "s3cret", cfg.API.Auth.Tokens[0].Token)
	assert.Equal(t, 50.0, cfg.API.SubmitRate)

	assert.Equal(t, []string{"ambulances", "trucks"}, cfg.SortedPoolIDs())
	trucks := cfg.Pools["trucks"].PoolConfig("trucks")
	assert.Equal(t, 3, trucks.WorkerCount)
	assert.Equal(t, geom.Pt(1, 0, 2), trucks.Home)
	assert.Equal(t, 2.0, trucks.TravelSpeed)
	assert.Equal(t, 1.0, trucks.ProcessSpeed)
	assert.Equal(t, "ambulances", cfg.Pools["ambulances"].PoolConfig("ambulances").Name)

	jobs := cfg.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "restock", jobs[0].Name)
	assert.Equal(t, int64(5), jobs[0].Task.Rewards["gold"])
	assert.Equal(t, []string{path}, cfg.SourceFiles)
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", `
[service]
tick_interval = "50ms"
log_format = "text"

[pools.waiters]
workers = 4
home = { x = 0.0, y = 0.0, z = 0.0 }
process_speed = 1.5

[[recurring]]
name = "lunch"
schedule = "0 0 12 * * *"
[recurring.task]
pool = "waiters"
type = "serve"
priority = 1.0
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.Service.TickInterval)
	assert.Equal(t, "text", cfg.Service.LogFormat)
	assert.Equal(t, 4, cfg.Pools["waiters"].Workers)
	assert.Equal(t, 1.5, cfg.Pools["waiters"].ProcessSpeed)
	require.Len(t, cfg.Recurring, 1)
	assert.Equal(t, queue.Definition{Pool: "waiters", Type: "serve", Priority: 1}, cfg.Recurring[0].Task)
	assert.Equal(t, path, cfg.SourceFiles[0])
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "pools"), 0o755))
	writeFile(t, dir, "pools/trucks.yaml", `
pools:
  trucks: {workers: 2}
`)
	writeFile(t, dir, "pools/vans.toml", `
[pools.vans]
workers = 1
`)
	path := writeFile(t, dir, "config.yaml", `
include:
  - pools/trucks.yaml
  - pools/vans.toml
service:
  log_level: warn
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"trucks", "vans"}, cfg.SortedPoolIDs())
	assert.Len(t, cfg.SourceFiles, 3)

	files, err := DiscoverFiles(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.SourceFiles, files)
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "servce:\n  name: x\n", "field servce not found"},
		{"bad level", "service:\n  log_level: loud\n", "service.log_level"},
		{"bad format", "service:\n  log_format: xml\n", "service.log_format"},
		{"zero workers", "pools:\n  p: {workers: 0}\n", "pools.p"},
		{"negative speed", "pools:\n  p: {workers: 1, travel_speed: -2}\n", "travel_speed"},
		{"negative history", "state:\n  history_size: -1\n", "history_size"},
		{"recurring unknown pool", "recurring:\n  - {name: r, schedule: '@hourly', task: {pool: nope}}\n", "not a configured pool"},
		{"recurring bad schedule", "pools:\n  p: {workers: 1}\nrecurring:\n  - {name: r, schedule: 'soon', task: {pool: p}}\n", "invalid schedule"},
		{"recurring bad task", "pools:\n  p: {workers: 1}\nrecurring:\n  - {name: r, schedule: '@hourly', task: {pool: p, travel_seconds: -1}}\n", "travel_seconds"},
		{"duplicate recurring", "pools:\n  p: {workers: 1}\nrecurring:\n  - {name: r, schedule: '@hourly', task: {pool: p}}\n  - {name: r, schedule: '@hourly', task: {pool: p}}\n", "duplicate name"},
		{"unset secret", "api:\n  enabled: true\n  auth:\n    api_key: ${CONVOY_UNSET_FOR_TEST}\n", "CONVOY_UNSET_FOR_TEST"},
		{"scopeless token", "api:\n  enabled: true\n  auth:\n    tokens:\n      - token: abc\n", "scopes must be non-empty"},
		{"webhook relative path", "pools:\n  p: {workers: 1}\nwebhooks:\n  enabled: true\n  endpoints:\n    - {path: hook, secret: s, task: {pool: p}}\n", "must start with /"},
		{"webhook no secret", "pools:\n  p: {workers: 1}\nwebhooks:\n  enabled: true\n  endpoints:\n    - {path: /hook, task: {pool: p}}\n", "secret is required"},
		{"webhook unknown pool", "webhooks:\n  enabled: true\n  endpoints:\n    - {path: /hook, secret: s, task: {pool: nope}}\n", "not a configured pool"},
		{"webhook duplicate path", "pools:\n  p: {workers: 1}\nwebhooks:\n  enabled: true\n  endpoints:\n    - {path: /hook, secret: s, task: {pool: p}}\n    - {path: /hook, secret: t, task: {pool: p}}\n", "duplicate path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tc.body)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadWebhooks(t *testing.T) {
	t.Setenv("CONVOY_TEST_HOOK_SECRET", "hook-secret")
	path := writeFile(t, t.TempDir(), "config.yaml", `
pools:
  trucks: {workers: 1}
webhooks:
  enabled: true
  endpoints:
    - path: /hooks/alarm
      secret: ${CONVOY_TEST_HOOK_SECRET}
      max_body_size: 64KB
      task: {pool: trucks, type: alarm, priority: 10}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Webhooks.Enabled)
	assert.Equal(t, "127.0.0.1:8081", cfg.Webhooks.Listen)
	require.Len(t, cfg.Webhooks.Endpoints, 1)
	ep := cfg.Webhooks.Endpoints[0]
	assert.Equal(t, "hook-secret", ep.Secret)
	assert.Equal(t, "64KB", ep.MaxBodySize)
	assert.Equal(t, float64(10), ep.Task.Priority)
}

func TestLoadIncludeCycleAndDuplicatePool(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")

	dir = t.TempDir()
	writeFile(t, dir, "extra.yaml", "pools:\n  p: {workers: 1}\n")
	path := writeFile(t, dir, "config.yaml", "include: [extra.yaml]\npools:\n  p: {workers: 2}\n")
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `pool "p" is defined more than once`)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "config file not found"))

	_, err = Load(t.TempDir())
	require.Error(t, err)
}

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "convoy", cfg.Service.Name)
	assert.Equal(t, queue.DefaultHistorySize, *cfg.State.HistorySize)
	assert.Empty(t, cfg.Pools)
}
