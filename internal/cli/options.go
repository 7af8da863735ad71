// Package cli provides utilities for building the vgs command-line tools.
//
// It holds the flag groups shared by the cmd/vgs-* binaries and the
// tab-delimited reader and writer used for metadata tables.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/kzlab/vgs/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ConfigOptions selects the configuration file and log verbosity.
type ConfigOptions struct {
	// Path is the YAML config file (empty = vgs.yaml if present)
	Path string

	// Verbose switches to a debug-level console logger
	Verbose bool
}

// AddConfigFlags adds the configuration flags to a cobra command.
func AddConfigFlags(cmd *cobra.Command, opts *ConfigOptions) {
	flags := cmd.Flags()

	flags.StringVar(&opts.Path, "config", "",
		"configuration file (default: "+config.DefaultPath+" when present)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false,
		"log every tool invocation")
}

// Load reads the configuration and builds the logger it describes.
func (o *ConfigOptions) Load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.Path)
	if err != nil {
		return nil, nil, err
	}

	logCfg := cfg.Logging
	if o.Verbose {
		logCfg.Level = "debug"
		logCfg.Development = true
	}
	logger, err := logCfg.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// ReferenceOptions selects the reference set.
type ReferenceOptions struct {
	// Reference is TBEV or CCHF
	Reference string
}

// AddReferenceFlags adds the --reference flag to a cobra command.
func AddReferenceFlags(cmd *cobra.Command, opts *ReferenceOptions) {
	cmd.Flags().StringVarP(&opts.Reference, "reference", "r", "",
		"reference set (TBEV or CCHF)")
	_ = cmd.MarkFlagRequired("reference")
}

// SelectOptions picks records from a metadata table.
type SelectOptions struct {
	// Names are record names to include (can be repeated)
	Names []string

	// NamesFile holds one record name per line (first column)
	NamesFile string

	// Genbank includes reference-database genomes in the selection
	Genbank bool
}

// AddSelectFlags adds the record selection flags to a cobra command.
func AddSelectFlags(cmd *cobra.Command, opts *SelectOptions) {
	flags := cmd.Flags()

	flags.StringSliceVarP(&opts.Names, "name", "n", nil,
		"record name(s) to include (default: all records)")
	flags.StringVar(&opts.NamesFile, "names-file", "",
		"file with one record name per line (- for stdin)")
	flags.BoolVar(&opts.Genbank, "ncbi", false,
		"include reference-database (NCBI) genomes")
}

// Resolve returns the selected names. With no names given, every name in
// all is selected.
func (o *SelectOptions) Resolve(all []string) ([]string, error) {
	names := append([]string(nil), o.Names...)

	if o.NamesFile != "" {
		in, err := OpenInput(o.NamesFile)
		if err != nil {
			return nil, err
		}
		defer in.Close()

		fromFile, err := ReadNames(in)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", o.NamesFile, err)
		}
		names = append(names, fromFile...)
	}

	if len(names) == 0 && o.NamesFile == "" {
		return all, nil
	}
	return names, nil
}

// ReadNames reads the first column of each line, skipping a "name" header.
func ReadNames(r io.Reader) ([]string, error) {
	tr := NewTabReader(r, false)
	var names []string
	for first := true; ; first = false {
		row, err := tr.Read()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		name := strings.TrimSpace(row[0])
		if name == "" || (first && name == "name") {
			continue
		}
		names = append(names, name)
	}
}

// IOOptions contains output options.
type IOOptions struct {
	// Output is the output file path (empty = stdout)
	Output string
}

// AddIOFlags adds the I/O flags to a cobra command.
func AddIOFlags(cmd *cobra.Command, opts *IOOptions) {
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "",
		"output file (default: stdout)")
}
