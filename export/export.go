// Package export packages metadata tables and nextstrain builds as zip
// archives for download.
package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/reference"
)

// FASTAName is the sequence member of the metadata archive.
func FASTAName(set *reference.Set) string { return set.ExportBase() + ".fasta" }

// TSVName is the table member of the metadata archive.
func TSVName(set *reference.Set) string { return set.ExportBase() + "_metadata.tsv" }

// XLSXName is the spreadsheet member of the metadata archive.
func XLSXName(set *reference.Set) string { return set.ExportBase() + "_metadata.xlsx" }

// ArchiveName is the download name of the metadata archive of set.
func ArchiveName(set *reference.Set) string {
	return set.ExportBase() + "_export.zip"
}

// Metadata writes a zip archive holding every record of the table as
// FASTA, the table without sequences as TSV, and the same table as XLSX.
func Metadata(w io.Writer, set *reference.Set, table *metadata.Table, modified time.Time) error {
	records := table.Records()
	zw := zip.NewWriter(w)

	members := []struct {
		name  string
		write func(io.Writer) error
	}{
		{FASTAName(set), func(w io.Writer) error { return metadata.WriteFASTA(w, records) }},
		{TSVName(set), func(w io.Writer) error { return metadata.WriteTSV(w, records, metadata.ExportColumns) }},
		{XLSXName(set), func(w io.Writer) error { return metadata.WriteXLSX(w, records) }},
	}
	for _, m := range members {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     m.name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("adding %s: %w", m.name, err)
		}
		if err := m.write(fw); err != nil {
			return fmt.Errorf("writing %s: %w", m.name, err)
		}
	}
	return zw.Close()
}

// MetadataFiles writes the FASTA and TSV exports next to each other in dir
// and returns their paths.
func MetadataFiles(dir string, set *reference.Set, table *metadata.Table) ([]string, error) {
	records := table.Records()
	fasta := filepath.Join(dir, FASTAName(set))
	tsv := filepath.Join(dir, TSVName(set))
	if err := metadata.WriteFASTAFile(fasta, records); err != nil {
		return nil, err
	}
	if err := metadata.WriteTSVFile(tsv, records, metadata.ExportColumns); err != nil {
		return nil, err
	}
	return []string{fasta, tsv}, nil
}

// Directory writes a zip archive of the regular files under dir, stored
// below prefix. Files for which skip returns true are left out.
func Directory(w io.Writer, dir, prefix string, skip func(rel string) bool) error {
	zw := zip.NewWriter(w)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if skip != nil && skip(rel) {
			return nil
		}

		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = rel
		if prefix != "" {
			hdr.Name = prefix + "/" + rel
		}
		hdr.Method = zip.Deflate
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(fw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("archiving %s: %w", dir, err)
	}
	return zw.Close()
}

// Build writes the archive of a job directory under name, leaving out the
// read alignments.
func Build(w io.Writer, dir, name string) error {
	return Directory(w, dir, name, func(rel string) bool {
		switch filepath.Ext(rel) {
		case ".sam", ".bam":
			return true
		}
		return false
	})
}

// MetadataBytes is Metadata into memory.
func MetadataBytes(set *reference.Set, table *metadata.Table, modified time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if err := Metadata(&buf, set, table, modified); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
