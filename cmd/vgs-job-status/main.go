// Command vgs-job-status checks the status of vgs jobs.
//
// Usage:
//
//	vgs-job-status [options] [jobid...]
//
// Without job ids the most recent jobs are listed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/kzlab/vgs/internal/app"
	"github.com/kzlab/vgs/internal/cli"
	"github.com/kzlab/vgs/jobs"
	"github.com/spf13/cobra"
)

var (
	configOpts cli.ConfigOptions
	long       bool
	showLog    bool
	limit      int
)

var rootCmd = &cobra.Command{
	Use:   "vgs-job-status [options] [jobid...]",
	Short: "Check the status of vgs jobs",
	Long: `Check the status of one or more jobs, or list recent jobs.

Examples:

  # Recent jobs
  vgs-job-status

  # Status of a job
  vgs-job-status 7c1e...

  # Full record and tool log of a job
  vgs-job-status -l --log 7c1e...`,
	RunE: run,
}

func init() {
	cli.AddConfigFlags(rootCmd, &configOpts)
	rootCmd.Flags().BoolVarP(&long, "long", "l", false, "show all information for the given jobs")
	rootCmd.Flags().BoolVar(&showLog, "log", false, "print the tool log of the given jobs")
	rootCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs listed when no id is given")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, logger, err := configOpts.Load()
	if err != nil {
		return err
	}
	env, err := app.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	svc, err := env.Jobs()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if len(args) == 0 {
		return list(ctx, svc)
	}

	tasks, err := svc.Query(ctx, args)
	if err != nil {
		return fmt.Errorf("querying jobs: %w", err)
	}
	for _, id := range args {
		task := tasks[id]
		if task == nil {
			fmt.Printf("%s: job not found\n", id)
			continue
		}
		fmt.Printf("%s: %s\n", id, task.Status)
		if task.Error != "" {
			fmt.Printf("\terror\t%s\n", task.Error)
		}

		if long {
			fmt.Printf("\tapp\t%s\n", task.App)
			fmt.Printf("\treference\t%s\n", task.Reference)
			fmt.Printf("\telapsed\t%s\n", task.ElapsedTime())
			if dir, err := svc.Dir(id); err == nil {
				fmt.Printf("\tdirectory\t%s\n", dir.Path)
			}
			taskJSON, _ := json.MarshalIndent(task, "", "  ")
			fmt.Println(string(taskJSON))
		}

		if showLog {
			text, err := svc.Log(id)
			if err != nil && !errors.Is(err, jobs.ErrNotFound) {
				fmt.Fprintf(os.Stderr, "Error reading log: %v\n", err)
				continue
			}
			fmt.Print(text)
		}
	}
	return nil
}

func list(ctx context.Context, svc *jobs.Service) error {
	tasks, err := svc.Enumerate(ctx, 0, limit)
	if err != nil {
		return err
	}
	tw := cli.NewTabWriter(os.Stdout)
	if err := tw.WriteHeaders([]string{"id", "app", "reference", "status", "submitted", "elapsed"}); err != nil {
		return err
	}
	for _, t := range tasks {
		if err := tw.WriteRow(t.ID, t.App, t.Reference, string(t.Status),
			t.SubmitTime.Local().Format("2006-01-02 15:04:05"), t.ElapsedTime().String()); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
