// Command vgs-nextstrain builds a phylogeny of selected records with augur.
//
// Usage:
//
//	vgs-nextstrain [options] -r REF
//
// The selected records are aligned, a tree is built and refined and an
// auspice JSON is exported into a new job directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kzlab/vgs/internal/app"
	"github.com/kzlab/vgs/internal/cli"
	"github.com/kzlab/vgs/jobs"
	"github.com/kzlab/vgs/pipeline"
	"github.com/kzlab/vgs/reference"
	"github.com/spf13/cobra"
)

var (
	configOpts cli.ConfigOptions
	refOpts    cli.ReferenceOptions
	selectOpts cli.SelectOptions
	detach     bool
	view       bool
	viewJob    string
)

var rootCmd = &cobra.Command{
	Use:   "vgs-nextstrain [options] -r REF",
	Short: "Build a nextstrain tree of selected records",
	Long: `Build a nextstrain tree from records of the project metadata table,
optionally together with the reference (NCBI) database.

At least four records must be selected.

Examples:

  # All project records of TBEV
  vgs-nextstrain -r TBEV

  # Chosen records plus the reference database, then open the viewer
  vgs-nextstrain -r CCHF --ncbi -n KZ_1,KZ_2,KZ_7 --view

  # Open the viewer on an earlier build
  vgs-nextstrain -r TBEV --view-job 7c1e...`,
	Args: cobra.NoArgs,
	RunE: run,
}

func init() {
	cli.AddConfigFlags(rootCmd, &configOpts)
	cli.AddReferenceFlags(rootCmd, &refOpts)
	cli.AddSelectFlags(rootCmd, &selectOpts)

	rootCmd.Flags().BoolVarP(&detach, "detach", "d", false, "queue the job and print its id without running it")
	rootCmd.Flags().BoolVar(&view, "view", false, "open nextstrain view on the finished build")
	rootCmd.Flags().StringVar(&viewJob, "view-job", "", "open nextstrain view on the build of an earlier job")
}

func run(cmd *cobra.Command, args []string) error {
	ref, err := reference.Parse(refOpts.Reference)
	if err != nil {
		return err
	}
	cfg, logger, err := configOpts.Load()
	if err != nil {
		return err
	}
	env, err := app.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if viewJob != "" {
		return viewBuild(ctx, env, viewJob)
	}

	candidates, err := env.Pipeline.Candidates(ref, selectOpts.Genbank)
	if err != nil {
		return err
	}
	names, err := selectOpts.Resolve(candidates.Names())
	if err != nil {
		return err
	}
	sel := pipeline.Selection{Reference: ref, Names: names, IncludeNCBI: selectOpts.Genbank}
	records, err := env.Pipeline.CheckSelection(sel)
	if err != nil {
		return err
	}

	var svc *jobs.Service
	if detach {
		svc, err = env.Jobs()
	} else {
		if err := env.Exec.Check(pipeline.NextstrainTools...); err != nil {
			return err
		}
		svc, err = env.StartLocalJobs(ctx)
	}
	if err != nil {
		return err
	}

	task, err := svc.Submit(ctx, pipeline.AppNextstrain, string(ref), sel)
	if err != nil {
		return fmt.Errorf("submitting build: %w", err)
	}
	if detach {
		fmt.Println(task.ID)
		return nil
	}

	fmt.Fprintf(os.Stderr, "job %s building a tree of %d records\n", task.ID, len(records))
	done, err := svc.Wait(ctx, task.ID, time.Second)
	if err != nil {
		return err
	}
	if done.Status != jobs.StatusCompleted {
		return fmt.Errorf("job %s %s: %s", done.ID, done.Status, done.Error)
	}

	var res pipeline.NextstrainResult
	if err := done.DecodeResult(&res); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	fmt.Printf("job\t%s\n", done.ID)
	fmt.Printf("records\t%d\n", res.Records)
	fmt.Printf("auspice\t%s\n", res.Auspice)

	if view {
		return viewBuild(ctx, env, done.ID)
	}
	return nil
}

func viewBuild(ctx context.Context, env *app.Env, id string) error {
	svc, err := env.Jobs()
	if err != nil {
		return err
	}
	dir, err := svc.Dir(id)
	if err != nil {
		return err
	}
	if !dir.Exists(pipeline.AuspiceFile) {
		return fmt.Errorf("job %s has no %s", id, pipeline.AuspiceFile)
	}
	fmt.Fprintf(os.Stderr, "opening nextstrain view on %s (interrupt to stop)\n", dir.Path)
	err = env.Pipeline.View(ctx, env.Exec.WithJobLog(os.Stderr), dir.Path)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
