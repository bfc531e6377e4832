package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateChecksumsWithReportDryRun(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, "config.yaml", "service:\n  name: x\n")

	report, err := GenerateChecksumsWithReport(tmpDir, []string{"config.yaml", "pools.yaml"}, true)
	require.NoError(t, err)
	assert.False(t, report.Written)
	require.Len(t, report.Files, 2)
	assert.True(t, report.Files[0].Exists)
	assert.Len(t, report.Files[0].Hash, 64)
	assert.False(t, report.Files[1].Exists)
	assert.Empty(t, report.Files[1].Hash)

	_, err = os.Stat(filepath.Join(tmpDir, ".checksums"))
	assert.True(t, os.IsNotExist(err), ".checksums should not be written in dry-run mode")
}

func TestLockThenVerify(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "pools"), 0o755))
	writeFile(t, dir, "pools/p.yaml", "pools:\n  p: {workers: 1}\n")
	path := writeFile(t, dir, "config.yaml", "include: [pools/p.yaml]\n")

	reports, err := Lock(path, false)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.True(t, r.Written)
	}

	manifest, err := LoadChecksums(dir)
	require.NoError(t, err)
	assert.Contains(t, manifest.Hashes, "config.yaml")

	_, err = Load(path)
	require.NoError(t, err)

	writeFile(t, dir, "pools/p.yaml", "pools:\n  p: {workers: 9}\n")
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")

	_, err = Lock(path, false)
	require.NoError(t, err)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Pools["p"].Workers)
}

func TestLoadChecksumsErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadChecksums(dir)
	assert.ErrorContains(t, err, "not found")

	writeFile(t, dir, ".checksums", "version: 2\nhashes: {}\n")
	_, err = LoadChecksums(dir)
	assert.ErrorContains(t, err, "unsupported checksums version")
}
