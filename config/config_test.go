package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingDefaultFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "res", cfg.ResourcesDir)
	assert.Equal(t, 11, cfg.Sketch.KSize)
	assert.Equal(t, 1, cfg.Sketch.Scaled)
	assert.False(t, cfg.Sketch.Abundance)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vgs.yaml")
	data := `
resources_dir: /data/res
threads: 8
fastqc: true
tools:
  minimap2: /opt/bin/minimap2
server:
  addr: ":9000"
sketch:
  ksize: 21
  scaled: 100
bvbrc:
  taxon_ids:
    TBEV: "999"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/res", cfg.ResourcesDir)
	assert.Equal(t, "tmp", cfg.WorkDir)
	assert.Equal(t, 8, cfg.ThreadCount())
	assert.True(t, cfg.FastQC)
	assert.Equal(t, "/opt/bin/minimap2", cfg.Tool("minimap2"))
	assert.Equal(t, "samtools", cfg.Tool("samtools"))
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 21, cfg.Sketch.KSize)
	assert.Equal(t, "999", cfg.BVBRC.TaxonIDs["TBEV"])
	assert.Equal(t, "1980519", cfg.BVBRC.TaxonIDs["CCHF"])
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "threads: [1"},
		{"negative threads", "threads: -2"},
		{"ksize", "sketch:\n  ksize: 40"},
		{"scaled", "sketch:\n  scaled: 0"},
		{"level", "logging:\n  level: loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "vgs.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.data), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"VGS_WORK_DIR": "/scratch",
		"VGS_THREADS":  "3",
		"VGS_FASTQC":   "true",
		"VGS_ADDR":     "0.0.0.0:80",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, "/scratch", cfg.WorkDir)
	assert.Equal(t, 3, cfg.Threads)
	assert.True(t, cfg.FastQC)
	assert.Equal(t, "0.0.0.0:80", cfg.Server.Addr)

	env["VGS_THREADS"] = "many"
	assert.Error(t, Default().applyEnv(lookup))
}

func TestNewLogger(t *testing.T) {
	l, err := LoggingConfig{Level: "debug"}.NewLogger()
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = LoggingConfig{Level: "chatty"}.NewLogger()
	assert.Error(t, err)
}
