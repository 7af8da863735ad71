package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/kzlab/vgs/jobs"
	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/runner"
	"github.com/kzlab/vgs/workspace"
)

// Job applications served by the pipeline.
const (
	AppAssemble   = "assemble"
	AppNextstrain = "nextstrain"
)

// ToolRunner gives a Runner that writes tool output to a job log.
// *runner.Exec satisfies it through JobRunner.
type ToolRunner func(log io.Writer) Runner

// JobRunner adapts e so each job gets its own tool log.
func JobRunner(e *runner.Exec) ToolRunner {
	return func(log io.Writer) Runner {
		return e.WithJobLog(log)
	}
}

// Register installs the assemble and nextstrain applications on svc.
//
// Assembly parameters are an AssembleRequest; a relative Reads path is
// resolved inside the job directory, where the server stores uploads.
// Nextstrain parameters are a Selection, resolved when the job starts.
func (p *Pipeline) Register(svc *jobs.Service, tools ToolRunner) {
	svc.Register(AppAssemble, func(ctx context.Context, task *jobs.Task, dir *workspace.Dir, log io.Writer) (any, error) {
		var req AssembleRequest
		if err := task.DecodeParameters(&req); err != nil {
			return nil, err
		}
		if !filepath.IsAbs(req.Reads) {
			path, err := dir.Resolve(req.Reads)
			if err != nil {
				return nil, err
			}
			req.Reads = path
		}
		fmt.Fprintf(log, "assembling %s against %s\n", filepath.Base(req.Reads), req.Reference)
		return p.Assemble(ctx, tools(log), dir.Path, req)
	})

	svc.Register(AppNextstrain, func(ctx context.Context, task *jobs.Task, dir *workspace.Dir, log io.Writer) (any, error) {
		var sel Selection
		if err := task.DecodeParameters(&sel); err != nil {
			return nil, err
		}
		records, err := p.Select(sel)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(log, "building nextstrain tree of %d %s records\n", len(records), sel.Reference)
		return p.Nextstrain(ctx, tools(log), dir.Path, sel.Reference, records)
	})
}

// CheckSelection resolves sel and rejects selections too small for a
// nextstrain build, so the error is reported before a job is queued.
func (p *Pipeline) CheckSelection(sel Selection) ([]metadata.Record, error) {
	records, err := p.Select(sel)
	if err != nil {
		return nil, err
	}
	if len(records) < MinNextstrainRecords {
		return nil, fmt.Errorf("%w (got %d)", ErrTooFewRecords, len(records))
	}
	return records, nil
}
