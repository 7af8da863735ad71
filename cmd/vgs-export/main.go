// Command vgs-export downloads a metadata table or the outputs of a job.
//
// Usage:
//
//	vgs-export [options] -r REF
//	vgs-export [options] --job ID
//
// A metadata export is a zip archive of the records as FASTA, TSV and XLSX,
// or loose FASTA and TSV files with --dir.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kzlab/vgs/export"
	"github.com/kzlab/vgs/internal/app"
	"github.com/kzlab/vgs/internal/cli"
	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/reference"
	"github.com/spf13/cobra"
)

var (
	configOpts cli.ConfigOptions
	refName    string
	ncbi       bool
	outDir     string
	output     string
	jobID      string
)

var rootCmd = &cobra.Command{
	Use:   "vgs-export [options] (-r REF | --job ID)",
	Short: "Export a metadata table or job outputs",
	Long: `Export the project metadata table of a reference, or the reference
database with --ncbi, as a zip archive of FASTA, TSV and XLSX. With --dir the
FASTA and TSV files are written into a directory instead.

With --job the output directory of a job is archived, leaving out the read
alignments.

Examples:

  # TBEV_export.zip in the current directory
  vgs-export -r TBEV

  # FASTA and TSV of the CCHF reference database
  vgs-export -r CCHF --ncbi --dir exports/

  # Archive a finished nextstrain build
  vgs-export --job 7c1e... -o build.zip`,
	Args: cobra.NoArgs,
	RunE: run,
}

func init() {
	cli.AddConfigFlags(rootCmd, &configOpts)
	flags := rootCmd.Flags()
	flags.StringVarP(&refName, "reference", "r", "", "reference set (TBEV or CCHF)")
	flags.BoolVar(&ncbi, "ncbi", false, "export the reference database instead of the project table")
	flags.StringVar(&outDir, "dir", "", "write FASTA and TSV files into this directory")
	flags.StringVarP(&output, "output", "o", "", "archive path (default: <REF>_export.zip or <ID>_output.zip)")
	flags.StringVar(&jobID, "job", "", "archive the outputs of this job")
	rootCmd.MarkFlagsMutuallyExclusive("reference", "job")
	rootCmd.MarkFlagsOneRequired("reference", "job")
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

	if jobID != "" {
		return exportJob(env)
	}

	ref, err := reference.Parse(refName)
	if err != nil {
		return err
	}
	project, refs, err := env.Catalog.Tables(ref)
	if err != nil {
		return err
	}
	table := project
	if ncbi {
		table = refs
	}
	set := env.Catalog.Set(ref)
	if ncbi {
		set = ncbiSet(set)
	}

	if outDir != "" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return err
		}
		paths, err := export.MetadataFiles(outDir, set, table)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	}

	if output == "" {
		output = export.ArchiveName(set)
	}
	return writeFile(output, func(f *os.File) error {
		return export.Metadata(f, set, table, time.Now())
	}, table)
}

// ncbiSet names the exports of the reference database apart from the
// project exports.
func ncbiSet(set *reference.Set) *reference.Set {
	c := *set
	c.Name = reference.Name(string(set.Name) + "_NCBI")
	return &c
}

func exportJob(env *app.Env) error {
	svc, err := env.Jobs()
	if err != nil {
		return err
	}
	dir, err := svc.Dir(jobID)
	if err != nil {
		return err
	}
	name := dir.ID + "_output"
	if output == "" {
		output = name + ".zip"
	}
	return writeFile(output, func(f *os.File) error {
		return export.Build(f, dir.Path, name)
	}, nil)
}

func writeFile(path string, write func(*os.File) error, table *metadata.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = write(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if table != nil {
		fmt.Printf("%s\t%d records\n", path, table.Len())
	} else {
		fmt.Println(path)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
