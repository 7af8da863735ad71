package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kzlab/vgs/metadata"
)

func TestField(t *testing.T) {
	row := map[string]any{
		"s":    " text ",
		"year": float64(2019),
		"ok":   true,
		"list": []any{"a", "b"},
	}
	tests := []struct {
		key  string
		want string
	}{
		{"s", "text"},
		{"year", "2019"},
		{"ok", "true"},
		{"list", "a,b"},
		{"missing", ""},
	}
	for _, tt := range tests {
		if got := field(row, tt.key); got != tt.want {
			t.Errorf("field(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestReferenceRecords(t *testing.T) {
	genomes := []Genome{
		{ID: "1980519.1", Name: "CCHFV Kashmanov", Strain: "Kashmanov", Date: "2015", Country: "Russia", Host: "Human"},
		{ID: "1980519.2", Name: "CCHFV", Date: "2016-05-01", Country: "Kazakhstan"},
		{ID: "1980519.3", Name: "no sequence"},
	}
	contigs := map[string][]Contig{
		"1980519.1": {
			{Accession: "MN100.1", Sequence: "ACGTACGT"},
			{Accession: "MN101.1", Sequence: "ACG"},
		},
		"1980519.2": {
			{Accession: "MN200.1", Sequence: "ACGTA"},
		},
	}

	got := ReferenceRecords(genomes, contigs, true, []string{"MN101.1"})
	want := []metadata.Record{
		{Name: "MN101.2", Length: 3, Date: "2015", Country: "Russia", Host: "Human", Desc: "MN101.1 CCHFV Kashmanov", Seq: "ACG"},
		{Name: "MN200.1", Length: 5, Date: "2016-05-01", Country: "Kazakhstan", Desc: "MN200.1 CCHFV", Seq: "ACGTA"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReferenceRecords() mismatch (-want +got):\n%s", diff)
	}

	all := ReferenceRecords(genomes, contigs, false, nil)
	if len(all) != 3 {
		t.Errorf("len(all contigs) = %d, want 3", len(all))
	}
	if all[0].Desc != "MN100.1 CCHFV Kashmanov" {
		t.Errorf("strain already in the name should not repeat, got %q", all[0].Desc)
	}
}

func TestAccessionName(t *testing.T) {
	tests := []struct {
		acc  string
		want string
	}{
		{"MN123456.1", "MN123456.1"},
		{"MN123456", "MN123456"},
		{"NC_005222.12", "NC_005222.12"},
		{"1980519.3", "1980519.3"},
		{"AB-062064.2", "AB062064.2"},
		{"MN123.x", "MN123x"},
		{"MN123.", "MN123"},
		{".1", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := accessionName(tt.acc); got != tt.want {
			t.Errorf("accessionName(%q) = %q, want %q", tt.acc, got, tt.want)
		}
	}
}

func TestClient_FetchReferences(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body := string(b)
		var rows []map[string]any
		switch r.URL.Path {
		case "/genome/":
			if !strings.Contains(body, "eq(taxon_lineage_ids,11084)") {
				t.Errorf("genome query %q should filter by taxon", body)
			}
			rows = []map[string]any{
				{"genome_id": "11084.1", "genome_name": "TBEV Sofjin", "collection_year": float64(1937), "isolation_country": "Russia"},
				{"genome_id": "11084.2", "genome_name": "TBEV KZ", "collection_date": "2017-06", "host_name": "Ixodes persulcatus"},
			}
		case "/genome_sequence/":
			if !strings.Contains(body, "in(genome_id,(11084.1,11084.2))") {
				t.Errorf("sequence query %q should list the genomes", body)
			}
			rows = []map[string]any{
				{"genome_id": "11084.1", "accession": "AB062064", "sequence": "acgt"},
				{"genome_id": "11084.2", "accession": "KZ_1", "sequence": "ACGTT"},
			}
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Range", "items 0-2/2")
		json.NewEncoder(w).Encode(rows)
	}))
	defer server.Close()

	var progress []int
	c := NewClient(WithBaseURL(server.URL))
	got, err := c.FetchReferences(context.Background(), "11084", false, []string{"KZ_1"}, func(done, total int) {
		progress = append(progress, done, total)
	})
	if err != nil {
		t.Fatalf("FetchReferences() error = %v", err)
	}

	want := []metadata.Record{
		{Name: "AB062064", Length: 4, Date: "1937", Country: "Russia", Desc: "AB062064 TBEV Sofjin", Seq: "ACGT"},
		{Name: "KZ_1.1", Length: 5, Date: "2017-06", Host: "Ixodes persulcatus", Desc: "KZ_1 TBEV KZ", Seq: "ACGTT"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FetchReferences() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2, 2}, progress); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
}
