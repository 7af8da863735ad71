package export

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/reference"
	"github.com/xuri/excelize/v2"
)

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		out[f.Name] = b
	}
	return out
}

func TestMetadata(t *testing.T) {
	set := reference.NewSet(reference.TBEV, "res")
	table := metadata.NewTable(
		metadata.Record{Name: "KZ1", Length: 4, Date: "2024-01-01", Country: "Kazakhstan", Seq: "ACGT"},
		metadata.Record{Name: "KZ2", Length: 2, Seq: "GG"},
	)

	data, err := MetadataBytes(set, table, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	files := readZip(t, data)

	var names []string
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	want := []string{"TBEV.fasta", "TBEV_metadata.tsv", "TBEV_metadata.xlsx"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("members = %v, want %v", names, want)
	}

	if fasta := string(files["TBEV.fasta"]); !strings.Contains(fasta, ">KZ1\nACGT") || !strings.Contains(fasta, ">KZ2\nGG") {
		t.Errorf("fasta = %q", fasta)
	}

	tsv := string(files["TBEV_metadata.tsv"])
	header := strings.SplitN(tsv, "\n", 2)[0]
	if header != strings.Join(metadata.ExportColumns, "\t") {
		t.Errorf("tsv header = %q", header)
	}
	if strings.Contains(tsv, "ACGT") {
		t.Error("tsv export should not carry sequences")
	}

	xf, err := excelize.OpenReader(bytes.NewReader(files["TBEV_metadata.xlsx"]))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer xf.Close()
	rows, err := xf.GetRows("metadata")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[1][0] != "KZ1" {
		t.Errorf("xlsx rows = %v", rows)
	}
}

func TestMetadataFiles(t *testing.T) {
	dir := t.TempDir()
	set := reference.NewSet(reference.CCHF, "res")
	paths, err := MetadataFiles(dir, set, metadata.NewTable(metadata.Record{Name: "a", Seq: "AC"}))
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 || filepath.Base(paths[0]) != "CCHF.fasta" || filepath.Base(paths[1]) != "CCHF_metadata.tsv" {
		t.Errorf("paths = %v", paths)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Error(err)
		}
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "augur_auspice.json"), []byte("{}"), 0644)
	os.WriteFile(filepath.Join(dir, "to_ref.sam"), []byte("sam"), 0644)
	os.WriteFile(filepath.Join(dir, "to_ref_sorted.bam"), []byte("bam"), 0644)
	os.Mkdir(filepath.Join(dir, "fastqc"), 0755)
	os.WriteFile(filepath.Join(dir, "fastqc", "report.html"), []byte("<html>"), 0644)

	var buf bytes.Buffer
	if err := Build(&buf, dir, "job1"); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	files := readZip(t, buf.Bytes())
	if len(files) != 2 {
		t.Errorf("archive has %d files, want 2: %v", len(files), files)
	}
	if string(files["job1/augur_auspice.json"]) != "{}" {
		t.Errorf("auspice member = %q", files["job1/augur_auspice.json"])
	}
	if _, ok := files["job1/fastqc/report.html"]; !ok {
		t.Error("nested file missing")
	}
}
