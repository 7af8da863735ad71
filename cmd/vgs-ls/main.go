// Command vgs-ls lists the records of a metadata table.
//
// Usage:
//
//	vgs-ls [options] -r REF
//
// Output is tab-delimited with a header row.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/kzlab/vgs/internal/app"
	"github.com/kzlab/vgs/internal/cli"
	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/reference"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	configOpts cli.ConfigOptions
	refOpts    cli.ReferenceOptions
	ioOpts     cli.IOOptions
	ncbi       bool
	all        bool
	columns    []string
	countOnly  bool
)

var rootCmd = &cobra.Command{
	Use:   "vgs-ls [options] -r REF",
	Short: "List metadata table records",
	Long: `List the records of the project metadata table of a reference, or of
the reference database with --ncbi, or of both with --all.

Examples:

  # Project records of TBEV
  vgs-ls -r TBEV

  # Names and countries of every CCHF record, project first
  vgs-ls -r CCHF --all -c name,country,type

  # How many reference genomes are there?
  vgs-ls -r TBEV --ncbi --count`,
	Args: cobra.NoArgs,
	RunE: run,
}

func init() {
	cli.AddConfigFlags(rootCmd, &configOpts)
	cli.AddReferenceFlags(rootCmd, &refOpts)
	cli.AddIOFlags(rootCmd, &ioOpts)

	flags := rootCmd.Flags()
	flags.BoolVar(&ncbi, "ncbi", false, "list the reference database instead of the project table")
	flags.BoolVarP(&all, "all", "a", false, "list the project table followed by the reference database")
	flags.StringSliceVarP(&columns, "columns", "c", nil,
		"columns to show (default: "+strings.Join(metadata.ExportColumns, ",")+")")
	flags.BoolVar(&countOnly, "count", false, "print the number of records only")
}

func run(cmd *cobra.Command, args []string) error {
	ref, err := reference.Parse(refOpts.Reference)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		columns = metadata.ExportColumns
	}
	for _, c := range columns {
		if !isColumn(c) {
			return fmt.Errorf("unknown column %q (one of %s)", c, strings.Join(metadata.LabelColumns, ", "))
		}
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

	project, refs, err := env.Catalog.Tables(ref)
	if err != nil {
		return err
	}
	var table *metadata.Table
	switch {
	case all:
		table = metadata.Concat(project.WithType(metadata.TypeProject), refs.WithType(metadata.TypeGenbank))
	case ncbi:
		table = refs
	default:
		table = project
	}

	if countOnly {
		fmt.Println(table.Len())
		return nil
	}

	out, err := cli.OpenOutput(ioOpts.Output)
	if err != nil {
		return err
	}
	defer out.Close()

	width := 0
	if ioOpts.Output == "" && term.IsTerminal(int(os.Stdout.Fd())) {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			width = w
		}
	}

	tw := cli.NewTabWriter(out)
	if err := tw.WriteHeaders(columns); err != nil {
		return err
	}
	for _, r := range table.Records() {
		row := make([]string, len(columns))
		for i, c := range columns {
			row[i] = r.Field(c)
			if c == metadata.ColDesc && width > 0 {
				row[i] = truncate(row[i], width/2)
			}
		}
		if err := tw.WriteRow(row...); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func isColumn(c string) bool {
	for _, col := range metadata.LabelColumns {
		if c == col {
			return true
		}
	}
	return c == metadata.ColSeq
}

// truncate shortens long descriptions on terminals.
func truncate(s string, n int) string {
	if n < 4 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
