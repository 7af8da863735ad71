// Command vgs-fetch-refs rebuilds the reference database of a pathogen
// from public BV-BRC genomes.
//
// Usage:
//
//	vgs-fetch-refs [options] -r REF
//
// Genome metadata and sequences of the configured taxon are downloaded and
// stored as <REF>_NCBI_metadata.tsv in the resources directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kzlab/vgs/api"
	"github.com/kzlab/vgs/auth"
	"github.com/kzlab/vgs/internal/app"
	"github.com/kzlab/vgs/internal/cli"
	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/reference"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configOpts cli.ConfigOptions
	refOpts    cli.ReferenceOptions
	taxonID    string
	output     string
	chunkSize  int
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "vgs-fetch-refs [options] -r REF",
	Short: "Rebuild a reference database from BV-BRC",
	Long: `Download the public genomes of the pathogen taxon from the BV-BRC data
API and replace the reference (NCBI) database of the reference set.

Record names are the GenBank accessions, made unique against the project
table. CCHF genomes are segmented; only the shortest segment of each genome
is kept. A BV-BRC token (P3_AUTH_TOKEN or ~/.patric_token) is sent when
present but not required.

Examples:

  # Refresh the TBEV reference database
  vgs-fetch-refs -r TBEV

  # Write the CCHF table elsewhere without replacing the database
  vgs-fetch-refs -r CCHF -o cchf_refs.tsv`,
	Args: cobra.NoArgs,
	RunE: run,
}

func init() {
	cli.AddConfigFlags(rootCmd, &configOpts)
	cli.AddReferenceFlags(rootCmd, &refOpts)

	flags := rootCmd.Flags()
	flags.StringVar(&taxonID, "taxon", "", "NCBI taxon id (default: bvbrc.taxon_ids from the config)")
	flags.StringVarP(&output, "output", "o", "", "write the table here instead of replacing the database")
	flags.IntVar(&chunkSize, "chunk-size", api.DefaultChunkSize, "records per API request")
	flags.BoolVarP(&quiet, "quiet", "q", false, "do not draw a progress bar")
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
	if taxonID == "" {
		taxonID = cfg.BVBRC.TaxonIDs[string(ref)]
	}
	if taxonID == "" {
		return fmt.Errorf("no taxon id configured for %s (use --taxon)", ref)
	}

	env, err := app.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	opts := []api.ClientOption{
		api.WithBaseURL(cfg.BVBRC.BaseURL),
		api.WithChunkSize(chunkSize),
		api.WithLogger(logger),
	}
	token, err := auth.BVBRCToken()
	if err != nil {
		return fmt.Errorf("getting token: %w", err)
	}
	if token != nil {
		logger.Debug("using BV-BRC token", zap.String("source", token.Source), zap.String("user", token.UserID))
		opts = append(opts, api.WithToken(token))
	}
	client := api.NewClient(opts...)

	project, _, err := env.Catalog.Tables(ref)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var bar *cli.Progress
	progress := func(done, total int) {
		if bar == nil {
			bar = cli.NewProgress(total, quiet)
		}
		bar.Set(done, total)
	}
	records, err := client.FetchReferences(ctx, taxonID, ref == reference.CCHF, project.Names(), progress)
	bar.Finish()
	if err != nil {
		return fmt.Errorf("fetching %s genomes: %w", ref, err)
	}

	if output != "" {
		if err := metadata.NewTable(records...).Save(output); err != nil {
			return err
		}
		fmt.Printf("%s\t%d records\n", output, len(records))
		return nil
	}
	if err := env.Catalog.ReplaceNCBI(ref, records); err != nil {
		return err
	}
	fmt.Printf("%s\t%d records\n", env.Catalog.Set(ref).NCBI, len(records))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
