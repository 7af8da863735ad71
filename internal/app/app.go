// Package app opens the reference catalog, pipeline, tool runner and job
// service described by a configuration. Every vgs command that touches
// reference data or jobs starts from an Env.
package app

import (
	"context"

	"github.com/kzlab/vgs/config"
	"github.com/kzlab/vgs/jobs"
	"github.com/kzlab/vgs/pipeline"
	"github.com/kzlab/vgs/reference"
	"github.com/kzlab/vgs/runner"
	"github.com/kzlab/vgs/sketch"
	"github.com/kzlab/vgs/workspace"
	"go.uber.org/zap"
)

// Env is the opened environment of one command run.
type Env struct {
	Config   *config.Config
	Logger   *zap.Logger
	Catalog  *reference.Catalog
	Pipeline *pipeline.Pipeline
	Exec     *runner.Exec

	store *jobs.Store
	jobs  *jobs.Service
}

// Open builds the catalog, pipeline and runner. The job service is opened
// lazily by Jobs.
func Open(cfg *config.Config, logger *zap.Logger) (*Env, error) {
	catalog, err := reference.NewCatalog(cfg.ResourcesDir, logger)
	if err != nil {
		return nil, err
	}
	return &Env{
		Config:  cfg,
		Logger:  logger,
		Catalog: catalog,
		Pipeline: pipeline.New(catalog,
			pipeline.WithThreads(cfg.ThreadCount()),
			pipeline.WithFastQC(cfg.FastQC),
			pipeline.WithLogger(logger)),
		Exec: runner.New(
			runner.WithTools(cfg.Tools),
			runner.WithLogger(logger)),
	}, nil
}

// Jobs opens the job store and workspace and returns a service with the
// pipeline applications registered. The service is not started.
func (e *Env) Jobs() (*jobs.Service, error) {
	return e.openJobs()
}

func (e *Env) openJobs(opts ...jobs.Option) (*jobs.Service, error) {
	if e.jobs != nil {
		return e.jobs, nil
	}
	store, err := jobs.OpenStore(e.Config.JobsDB)
	if err != nil {
		return nil, err
	}
	ws, err := workspace.New(e.Config.WorkDir)
	if err != nil {
		store.Close()
		return nil, err
	}

	opts = append([]jobs.Option{
		jobs.WithWorkers(e.Config.Server.Workers),
		jobs.WithLogger(e.Logger),
	}, opts...)
	svc := jobs.NewService(store, ws, opts...)
	e.Pipeline.Register(svc, pipeline.JobRunner(e.Exec))
	e.store, e.jobs = store, svc
	return svc, nil
}

// StartJobs opens the job service and starts workers that serve the whole
// queue.
func (e *Env) StartJobs(ctx context.Context) (*jobs.Service, error) {
	return e.startJobs(ctx)
}

// StartLocalJobs opens the job service and starts workers that run only the
// tasks this command submits. A server sharing the job database keeps the
// rest of its queue.
func (e *Env) StartLocalJobs(ctx context.Context) (*jobs.Service, error) {
	return e.startJobs(ctx, jobs.WithOwnTasksOnly())
}

func (e *Env) startJobs(ctx context.Context, opts ...jobs.Option) (*jobs.Service, error) {
	svc, err := e.openJobs(opts...)
	if err != nil {
		return nil, err
	}
	if err := svc.Start(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

// SketchParams returns the configured embedding parameters.
func (e *Env) SketchParams() sketch.Params {
	return sketch.Params{
		KSize:     e.Config.Sketch.KSize,
		Scaled:    e.Config.Sketch.Scaled,
		Abundance: e.Config.Sketch.Abundance,
	}
}

// Close stops the job workers and closes the store.
func (e *Env) Close() error {
	if e.jobs != nil {
		e.jobs.Close()
	}
	var err error
	if e.store != nil {
		err = e.store.Close()
	}
	_ = e.Logger.Sync()
	return err
}
