// Command vgs-embed places project records and the reference database in
// the plane by k-mer sketch similarity.
//
// Usage:
//
//	vgs-embed [options] -r REF
//
// Output is one row per record with its coordinates and labels, as TSV or
// JSON. --chart additionally writes a Vega-Lite chart of the embedding.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"

	"github.com/kzlab/vgs/internal/app"
	"github.com/kzlab/vgs/internal/cli"
	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/reference"
	"github.com/kzlab/vgs/server"
	"github.com/kzlab/vgs/sketch"
	"github.com/spf13/cobra"
)

var (
	configOpts cli.ConfigOptions
	refOpts    cli.ReferenceOptions
	selectOpts cli.SelectOptions
	ioOpts     cli.IOOptions
	format     string
	chartFile  string
	color      string
	shape      string
	ksize      int
	scaled     int
	abundance  bool
)

var rootCmd = &cobra.Command{
	Use:   "vgs-embed [options] -r REF",
	Short: "Embed records by k-mer sketch similarity",
	Long: `Sketch the selected project records and every reference-database record,
compare all pairs and place them in two dimensions.

Sketch parameters default to the sketch section of the configuration.

Examples:

  # TSV of every TBEV record
  vgs-embed -r TBEV > tbev_embedding.tsv

  # JSON with the similarity matrix and a chart coloured by host
  vgs-embed -r CCHF --format json -o cchf.json --chart cchf.vl.json --color host`,
	Args: cobra.NoArgs,
	RunE: run,
}

func init() {
	cli.AddConfigFlags(rootCmd, &configOpts)
	cli.AddReferenceFlags(rootCmd, &refOpts)
	cli.AddSelectFlags(rootCmd, &selectOpts)
	cli.AddIOFlags(rootCmd, &ioOpts)
	// The reference database is always part of an embedding.
	_ = rootCmd.Flags().MarkHidden("ncbi")

	flags := rootCmd.Flags()
	flags.StringVarP(&format, "format", "f", "tsv", "output format (tsv or json)")
	flags.StringVar(&chartFile, "chart", "", "write a Vega-Lite chart specification to this file")
	flags.StringVar(&color, "color", server.ColorChoices[0], "chart colour variable")
	flags.StringVar(&shape, "shape", server.ShapeChoices[0], "chart shape variable")
	flags.IntVarP(&ksize, "ksize", "k", 0, "k-mer size (default: from config)")
	flags.IntVar(&scaled, "scaled", 0, "keep hashes below max/scaled (default: from config)")
	flags.BoolVar(&abundance, "abundance", false, "compare k-mer abundances (angular similarity)")
}

func run(cmd *cobra.Command, args []string) error {
	ref, err := reference.Parse(refOpts.Reference)
	if err != nil {
		return err
	}
	if format != "tsv" && format != "json" {
		return fmt.Errorf("unknown format %q (use tsv or json)", format)
	}
	if !slices.Contains(server.ColorChoices, color) {
		return fmt.Errorf("unknown colour variable %q", color)
	}
	if !slices.Contains(server.ShapeChoices, shape) {
		return fmt.Errorf("unknown shape variable %q", shape)
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

	params := env.SketchParams()
	if ksize > 0 {
		params.KSize = ksize
	}
	if scaled > 0 {
		params.Scaled = scaled
	}
	if cmd.Flags().Changed("abundance") {
		params.Abundance = abundance
	}

	project, ncbi, err := env.Catalog.Tables(ref)
	if err != nil {
		return err
	}
	names, err := selectOpts.Resolve(project.Names())
	if err != nil {
		return err
	}
	selected, err := project.Select(names)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := sketch.Process(ctx, selected, ncbi.Records(), params)
	if err != nil {
		return err
	}

	out, err := cli.OpenOutput(ioOpts.Output)
	if err != nil {
		return err
	}
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		err = enc.Encode(res)
	} else {
		err = writeTSV(out, res)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing embedding: %w", err)
	}

	if chartFile != "" {
		data, err := json.MarshalIndent(server.ChartSpec(res, color, shape), "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(chartFile, data, 0644); err != nil {
			return err
		}
	}
	return nil
}

func writeTSV(w io.Writer, res *sketch.Result) error {
	tw := cli.NewTabWriter(w)
	if err := tw.WriteHeaders(append([]string{"x", "y"}, metadata.LabelColumns...)); err != nil {
		return err
	}
	for i, p := range res.Points {
		row := []string{
			strconv.FormatFloat(p.X, 'g', 8, 64),
			strconv.FormatFloat(p.Y, 'g', 8, 64),
		}
		for _, col := range metadata.LabelColumns {
			row = append(row, res.Labels[i].Field(col))
		}
		if err := tw.WriteRow(row...); err != nil {
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
