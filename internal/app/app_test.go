package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kzlab/vgs/config"
	"github.com/kzlab/vgs/jobs"
	"github.com/kzlab/vgs/pipeline"
	"github.com/kzlab/vgs/reference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	root := t.TempDir()
	cfg := config.Default()
	cfg.ResourcesDir = filepath.Join(root, "res")
	cfg.WorkDir = filepath.Join(root, "work")
	cfg.JobsDB = filepath.Join(root, "db", "jobs.db")
	cfg.Sketch.KSize = 7
	return cfg
}

func TestOpen(t *testing.T) {
	env, err := Open(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer env.Close()

	assert.Equal(t, 7, env.SketchParams().KSize)
	project, ncbi, err := env.Catalog.Tables(reference.TBEV)
	require.NoError(t, err)
	assert.Equal(t, 0, project.Len())
	assert.Equal(t, 0, ncbi.Len())
}

func TestEnv_Jobs(t *testing.T) {
	env, err := Open(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer env.Close()

	svc, err := env.Jobs()
	require.NoError(t, err)
	again, err := env.Jobs()
	require.NoError(t, err)
	assert.Same(t, svc, again)

	task, err := svc.Submit(context.Background(), pipeline.AppNextstrain, "TBEV", pipeline.Selection{Reference: reference.TBEV})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusQueued, task.Status)

	_, err = svc.Submit(context.Background(), "blast", "TBEV", nil)
	assert.ErrorIs(t, err, jobs.ErrUnknownApp)
}
