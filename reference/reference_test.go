package reference

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Name
		wantErr bool
	}{
		{"TBEV", TBEV, false},
		{"cchf", CCHF, false},
		{" TBEV ", TBEV, false},
		{"TBEF", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrUnknownReference) {
				t.Errorf("Parse(%q) error = %v, want ErrUnknownReference", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewSet(t *testing.T) {
	s := NewSet(TBEV, "res")
	assert.Equal(t, filepath.Join("res", "TBEV_reference.fasta"), s.FASTA)
	assert.Equal(t, filepath.Join("res", "TBEV_reference.gb"), s.GenBank)
	assert.Equal(t, filepath.Join("res", "TBEV_reference.mmi"), s.Index)
	assert.Equal(t, filepath.Join("res", "TBEV_metadata.tsv"), s.Metadata)
	assert.Equal(t, filepath.Join("res", "TBEV_NCBI_metadata.tsv"), s.NCBI)
	assert.Equal(t, filepath.Join("res", "auspice_config.json"), s.AuspiceConfig)
	assert.Equal(t, filepath.Join("res", "TBEV_metadata.lock"), s.Lock)
}

func TestSelectConsensus(t *testing.T) {
	seqs := []metadata.Sequence{
		{ID: "S", Seq: "AAAAA"},
		{ID: "M", Seq: "AA"},
		{ID: "L", Seq: "AAAAAAAA"},
		{ID: "M2", Seq: "CC"},
	}

	cchf := NewSet(CCHF, "res").SelectConsensus(seqs)
	require.Len(t, cchf, 1)
	assert.Equal(t, "M", cchf[0].ID)

	tbev := NewSet(TBEV, "res").SelectConsensus(seqs)
	assert.Len(t, tbev, 4)

	assert.Empty(t, NewSet(CCHF, "res").SelectConsensus(nil))
}

type fakeIndexer struct {
	steps []runner.Step
}

func (f *fakeIndexer) Run(ctx context.Context, s runner.Step) error {
	f.steps = append(f.steps, s)
	return os.WriteFile(s.Args[1], []byte("idx"), 0644)
}

func TestEnsureIndex(t *testing.T) {
	dir := t.TempDir()
	set := NewSet(TBEV, dir)
	r := &fakeIndexer{}

	err := set.EnsureIndex(context.Background(), r)
	assert.Error(t, err, "missing reference FASTA should fail")

	require.NoError(t, os.WriteFile(set.FASTA, []byte(">r\nACGT\n"), 0644))
	require.NoError(t, set.EnsureIndex(context.Background(), r))
	require.Len(t, r.steps, 1)
	assert.Equal(t, "minimap2", r.steps[0].Tool)
	assert.Equal(t, []string{"-d", set.Index, set.FASTA}, r.steps[0].Args)

	require.NoError(t, set.EnsureIndex(context.Background(), r))
	assert.Len(t, r.steps, 1, "existing index should not be rebuilt")
}

func writeTable(t *testing.T, path string, records ...metadata.Record) {
	t.Helper()
	require.NoError(t, metadata.NewTable(records...).Save(path))
}

func TestCatalog_TablesAndUpdate(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCatalog(dir, nil)
	require.NoError(t, err)

	set := c.Set(CCHF)
	writeTable(t, set.NCBI, metadata.Record{Name: "MN1", Seq: "ACGT"})

	project, ncbi, err := c.Tables(CCHF)
	require.NoError(t, err)
	assert.Equal(t, 0, project.Len())
	assert.Equal(t, []string{"MN1"}, ncbi.Names())

	err = c.Update(CCHF, func(project, ncbi *metadata.Table) error {
		project.Append(metadata.Submission{Name: "MN1"}, []metadata.Sequence{{ID: "x", Seq: "AC"}}, ncbi.Names())
		return nil
	})
	require.NoError(t, err)

	project, _, err = c.Tables(CCHF)
	require.NoError(t, err)
	assert.Equal(t, []string{"MN1.1"}, project.Names())

	failed := errors.New("boom")
	err = c.Update(CCHF, func(project, _ *metadata.Table) error {
		project.Append(metadata.Submission{Name: "lost"}, []metadata.Sequence{{ID: "x", Seq: "AC"}}, nil)
		return failed
	})
	assert.ErrorIs(t, err, failed)
	reloaded, err := c.Set(CCHF).LoadMetadata()
	require.NoError(t, err)
	assert.Equal(t, []string{"MN1.1"}, reloaded.Names(), "failed update must not be saved")

	assert.ErrorIs(t, c.Update("XYZ", nil), ErrUnknownReference)
}

func TestCatalog_ReplaceNCBI(t *testing.T) {
	c, err := NewCatalog(t.TempDir(), nil)
	require.NoError(t, err)

	_, ncbi, err := c.Tables(TBEV)
	require.NoError(t, err)
	require.Equal(t, 0, ncbi.Len())

	require.NoError(t, c.ReplaceNCBI(TBEV, []metadata.Record{
		{Name: "OQ1", Length: 4, Seq: "ACGT"},
		{Name: "OQ2", Length: 2, Seq: "AC"},
	}))
	_, ncbi, err = c.Tables(TBEV)
	require.NoError(t, err)
	assert.Equal(t, []string{"OQ1", "OQ2"}, ncbi.Names())

	assert.ErrorIs(t, c.ReplaceNCBI("XYZ", nil), ErrUnknownReference)
}

func TestCatalog_ReplaceNCBIRenamesClashes(t *testing.T) {
	c, err := NewCatalog(t.TempDir(), nil)
	require.NoError(t, err)

	// An assembly appended after the download started.
	require.NoError(t, c.Update(TBEV, func(project, ncbi *metadata.Table) error {
		project.Append(metadata.Submission{Name: "OQ1"}, []metadata.Sequence{{ID: "x", Seq: "AC"}}, ncbi.Names())
		return nil
	}))

	records := []metadata.Record{
		{Name: "OQ1", Seq: "ACGT"},
		{Name: "OQ2", Seq: "AC"},
		{Name: "OQ2", Seq: "ACG"},
	}
	require.NoError(t, c.ReplaceNCBI(TBEV, records))
	assert.Equal(t, "OQ1", records[0].Name, "caller's records must not change")

	project, ncbi, err := c.Tables(TBEV)
	require.NoError(t, err)
	assert.Equal(t, []string{"OQ1"}, project.Names())
	assert.Equal(t, []string{"OQ1.1", "OQ2", "OQ2.1"}, ncbi.Names())

	all := metadata.Concat(project, ncbi)
	selected, err := all.Select([]string{"OQ1", "OQ1.1", "OQ2", "OQ2.1"})
	require.NoError(t, err)
	assert.Len(t, selected, 4)
}

func TestCatalog_UpdatesFromSeveralCatalogs(t *testing.T) {
	dir := t.TempDir()
	a, err := NewCatalog(dir, nil)
	require.NoError(t, err)
	b, err := NewCatalog(dir, nil)
	require.NoError(t, err)

	const runs = 8
	var g errgroup.Group
	for i := 0; i < runs; i++ {
		c := a
		if i%2 == 1 {
			c = b
		}
		g.Go(func() error {
			return c.Update(CCHF, func(project, ncbi *metadata.Table) error {
				project.Append(metadata.Submission{Name: "run"}, []metadata.Sequence{{ID: "x", Seq: "AC"}}, ncbi.Names())
				// Widen the window between load and save.
				time.Sleep(20 * time.Millisecond)
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())

	saved, err := a.Set(CCHF).LoadMetadata()
	require.NoError(t, err)
	names := saved.Names()
	assert.Len(t, names, runs)
	seen := make(map[string]bool)
	for _, n := range names {
		assert.False(t, seen[n], "duplicate name %s", n)
		seen[n] = true
	}
	assert.True(t, seen["run"])
	assert.True(t, seen["run.7"])
}

func TestCatalog_TablesInvalidatedWhileLoading(t *testing.T) {
	c, err := NewCatalog(t.TempDir(), nil)
	require.NoError(t, err)
	set := c.Set(TBEV)
	writeTable(t, set.Metadata, metadata.Record{Name: "before", Seq: "A"})

	// Another writer lands after the files were read but before they are
	// cached.
	c.loaded = func(name Name) {
		c.loaded = nil
		writeTable(t, set.Metadata,
			metadata.Record{Name: "before", Seq: "A"},
			metadata.Record{Name: "after", Seq: "C"})
		c.Invalidate(name)
	}
	stale, _, err := c.Tables(TBEV)
	require.NoError(t, err)
	assert.Equal(t, []string{"before"}, stale.Names())

	fresh, _, err := c.Tables(TBEV)
	require.NoError(t, err)
	assert.Equal(t, []string{"before", "after"}, fresh.Names())

	again, _, err := c.Tables(TBEV)
	require.NoError(t, err)
	assert.Same(t, fresh, again)
}

func TestCatalog_Watch(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCatalog(dir, nil)
	require.NoError(t, err)

	project, _, err := c.Tables(TBEV)
	require.NoError(t, err)
	require.Equal(t, 0, project.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeTable(t, c.Set(TBEV).Metadata, metadata.Record{Name: "external", Seq: "A"})

	assert.Eventually(t, func() bool {
		project, _, err := c.Tables(TBEV)
		return err == nil && project.Len() == 1
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestTableOwner(t *testing.T) {
	tests := []struct {
		path string
		want Name
		ok   bool
	}{
		{"res/TBEV_metadata.tsv", TBEV, true},
		{"res/CCHF_NCBI_metadata.tsv", CCHF, true},
		{"res/.TBEV_metadata.tsv.123", "", false},
		{"res/TBEV_reference.fasta", "", false},
		{"res/tbev_metadata.tsv", "", false},
	}
	for _, tt := range tests {
		got, ok := tableOwner(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("tableOwner(%q) = %q, %v, want %q, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}
