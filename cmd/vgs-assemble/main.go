// Command vgs-assemble builds a consensus genome from a run of reads.
//
// Usage:
//
//	vgs-assemble [options] -r REF reads.fastq
//
// The reads are mapped to the reference, variants called and the consensus
// appended to the project metadata table of the reference.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kzlab/vgs/internal/app"
	"github.com/kzlab/vgs/internal/cli"
	"github.com/kzlab/vgs/jobs"
	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/pipeline"
	"github.com/kzlab/vgs/reference"
	"github.com/kzlab/vgs/workspace"
	"github.com/spf13/cobra"
)

var (
	configOpts cli.ConfigOptions
	refOpts    cli.ReferenceOptions
	submission metadata.Submission
	detach     bool
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "vgs-assemble [options] -r REF reads.fastq",
	Short: "Assemble a consensus genome from reads",
	Long: `Map reads to the reference, call variants and append the consensus
sequence to the project metadata table.

The reads file is copied into a new job directory. Without --detach the
job runs here and the command waits for it; with --detach it is only
queued for a running vgs-serve.

Examples:

  # Assemble a TBEV run
  vgs-assemble -r TBEV --name "KZ tick 12" --date 2024-05-01 run12.fastq.gz

  # Queue a CCHF run for the server
  vgs-assemble -r CCHF --detach --host Hyalomma run7.fastq`,
	Args: cobra.ExactArgs(1),
	RunE: run,
}

func init() {
	cli.AddConfigFlags(rootCmd, &configOpts)
	cli.AddReferenceFlags(rootCmd, &refOpts)

	flags := rootCmd.Flags()
	flags.StringVar(&submission.Name, "name", "", "run name, used as the record name")
	flags.StringVar(&submission.Date, "date", "", "collection date")
	flags.StringVar(&submission.Country, "country", "Kazakhstan", "country of collection")
	flags.StringVar(&submission.Host, "host", "", "host organism")
	flags.StringVar(&submission.IsolationSource, "isolation-source", "", "isolation source (blood, soil, ...)")
	flags.BoolVarP(&detach, "detach", "d", false, "queue the job and print its id without running it")
	flags.BoolVarP(&quiet, "quiet", "q", false, "do not draw progress bars")
}

func run(cmd *cobra.Command, args []string) error {
	ref, err := reference.Parse(refOpts.Reference)
	if err != nil {
		return err
	}
	reads := args[0]
	info, err := os.Stat(reads)
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

	var svc *jobs.Service
	if detach {
		svc, err = env.Jobs()
	} else {
		if err := env.Exec.Check(env.Pipeline.RequiredTools()...); err != nil {
			return err
		}
		svc, err = env.StartLocalJobs(ctx)
	}
	if err != nil {
		return err
	}

	req := pipeline.AssembleRequest{
		Reference:  ref,
		Reads:      "reads" + readsExtension(reads),
		Submission: submission,
	}
	task, err := svc.SubmitWith(ctx, pipeline.AppAssemble, string(ref), req, func(dir *workspace.Dir) error {
		return copyReads(reads, dir.File(req.Reads), info.Size())
	})
	if err != nil {
		return fmt.Errorf("submitting assembly: %w", err)
	}
	if detach {
		fmt.Println(task.ID)
		return nil
	}

	fmt.Fprintf(os.Stderr, "job %s running\n", task.ID)
	done, err := svc.Wait(ctx, task.ID, time.Second)
	if err != nil {
		return err
	}
	if done.Status != jobs.StatusCompleted {
		return fmt.Errorf("job %s %s: %s", done.ID, done.Status, done.Error)
	}

	var res pipeline.AssembleResult
	if err := done.DecodeResult(&res); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	printResult(os.Stdout, done, &res)
	return nil
}

// readsExtension keeps the compression suffix so the copy is still read
// correctly.
func readsExtension(path string) string {
	base := strings.ToLower(filepath.Base(path))
	for _, ext := range []string{".fastq.gz", ".fq.gz", ".fastq", ".fq", ".gz"} {
		if strings.HasSuffix(base, ext) {
			return ext
		}
	}
	return ".fastq"
}

func copyReads(src, dst string, size int64) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	bar := cli.NewByteProgress(size, quiet)
	_, err = io.Copy(out, bar.Reader(in))
	bar.Finish()
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return nil
}

func printResult(w io.Writer, task *jobs.Task, res *pipeline.AssembleResult) {
	fmt.Fprintf(w, "job\t%s\n", task.ID)
	fmt.Fprintf(w, "elapsed\t%s\n", task.ElapsedTime())
	if res.Reads != nil {
		fmt.Fprintf(w, "reads\t%d (%d bases, N50 %d)\n", res.Reads.Records, res.Reads.Bases, res.Reads.N50)
	}
	if res.Mapping != nil {
		fmt.Fprintf(w, "mapped\t%d of %d (%.1f%%)\n",
			res.Mapping.Mapped, res.Mapping.Total, 100*res.Mapping.MappedFraction())
		for _, r := range res.Mapping.References {
			fmt.Fprintf(w, "coverage\t%s %.1f%% mean depth %.1f\n", r.Name, 100*r.Coverage, r.MeanDepth)
		}
	}
	if res.FastQC != "" {
		fmt.Fprintf(w, "fastqc\t%s\n", res.FastQC)
	}
	for _, rec := range res.Records {
		fmt.Fprintf(w, "added\t%s\t%d bp\n", rec.Name, rec.Length)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
