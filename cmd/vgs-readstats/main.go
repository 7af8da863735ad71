// Command vgs-readstats summarizes FASTQ or FASTA read files.
//
// Usage:
//
//	vgs-readstats [options] file [file...]
//
// Gzip, bzip2, xz and zstd compressed files are read directly.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/kzlab/vgs/internal/cli"
	"github.com/kzlab/vgs/readstats"
	"github.com/spf13/cobra"
)

var (
	ioOpts   cli.IOOptions
	asJSON   bool
	quiet    bool
	failFast bool
)

var rootCmd = &cobra.Command{
	Use:   "vgs-readstats [options] file [file...]",
	Short: "Summarize read files",
	Long: `Count the records and bases of read files and report length statistics.

This is the check every upload goes through before assembly.

Examples:

  # Table of two runs
  vgs-readstats run1.fastq.gz run2.fastq

  # JSON, stopping at the first unreadable file
  vgs-readstats --json --fail-fast *.fq.gz`,
	Args: cobra.MinimumNArgs(1),
	RunE: run,
}

func init() {
	cli.AddIOFlags(rootCmd, &ioOpts)
	rootCmd.Flags().BoolVar(&asJSON, "json", false, "write JSON instead of a table")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not draw progress bars")
	rootCmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first file that cannot be read")
}

func run(cmd *cobra.Command, args []string) error {
	var all []*readstats.Stats
	failed := 0
	for _, path := range args {
		bar := cli.NewProgress(0, quiet)
		stats, err := readstats.Compute(path, bar.Increment)
		bar.Finish()
		if err != nil {
			if failFast {
				return err
			}
			fmt.Fprintf(os.Stderr, "%v\n", err)
			failed++
			continue
		}
		all = append(all, stats)
	}

	out, err := cli.OpenOutput(ioOpts.Output)
	if err != nil {
		return err
	}
	defer out.Close()

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(all); err != nil {
			return err
		}
	} else {
		tw := cli.NewTabWriter(out)
		if err := tw.WriteHeaders([]string{"file", "format", "records", "bases", "min_len", "max_len", "mean_len", "n50"}); err != nil {
			return err
		}
		for _, s := range all {
			if err := tw.WriteRow(s.File, s.Format,
				strconv.Itoa(s.Records),
				strconv.FormatInt(s.Bases, 10),
				strconv.Itoa(s.MinLen),
				strconv.Itoa(s.MaxLen),
				strconv.FormatFloat(s.MeanLen, 'f', 1, 64),
				strconv.Itoa(s.N50)); err != nil {
				return err
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be read", failed, len(args))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
