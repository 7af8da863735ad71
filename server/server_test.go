package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kzlab/vgs/auth"
	"github.com/kzlab/vgs/jobs"
	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/pipeline"
	"github.com/kzlab/vgs/reference"
	"github.com/kzlab/vgs/sketch"
	"github.com/kzlab/vgs/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server  *Server
	handler http.Handler
	jobs    *jobs.Service
	catalog *reference.Catalog
}

// newFixture builds a server whose job service is never started, so
// submitted jobs stay queued.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	root := t.TempDir()
	catalog, err := reference.NewCatalog(filepath.Join(root, "res"), nil)
	require.NoError(t, err)
	store, err := jobs.OpenStore(filepath.Join(root, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ws, err := workspace.New(filepath.Join(root, "work"))
	require.NoError(t, err)

	svc := jobs.NewService(store, ws)
	noop := func(ctx context.Context, task *jobs.Task, dir *workspace.Dir, log io.Writer) (any, error) {
		return nil, nil
	}
	svc.Register(pipeline.AppAssemble, noop)
	svc.Register(pipeline.AppNextstrain, noop)

	s := New(pipeline.New(catalog), svc, opts...)
	return &fixture{server: s, handler: s.Handler(), jobs: svc, catalog: catalog}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// sequence returns a deterministic pseudo-random DNA string.
func sequence(seed uint32, n int) string {
	var b strings.Builder
	x := seed
	for i := 0; i < n; i++ {
		x = x*1664525 + 1013904223
		b.WriteByte("ACGT"[x>>30])
	}
	return b.String()
}

// seed adds project records named p0..pN-1 and one reference record.
func (f *fixture) seed(t *testing.T, n int) {
	t.Helper()
	require.NoError(t, f.catalog.Update(reference.TBEV, func(project, _ *metadata.Table) error {
		for i := 0; i < n; i++ {
			project.Append(
				metadata.Submission{Name: "p" + string(rune('0'+i)), Country: "Kazakhstan", Host: "tick"},
				[]metadata.Sequence{{ID: "c", Seq: sequence(uint32(i+1), 200)}},
				nil)
		}
		return nil
	}))
	require.NoError(t, f.catalog.ReplaceNCBI(reference.TBEV, []metadata.Record{
		{Name: "AB062064", Country: "Russia", Length: 200, Seq: sequence(99, 200)},
	}))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, WithToken(&auth.Token{Raw: "secret"}))
	rec := f.do(t, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = f.do(t, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, f.do(t, req).Code)
}

func TestIndex(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest("GET", "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `value="Kazakhstan"`)
	assert.Contains(t, body, `<option value="CCHF"`)

	assert.Equal(t, http.StatusNotFound, f.do(t, httptest.NewRequest("GET", "/nope", nil)).Code)
}

func uploadRequest(t *testing.T, fields map[string]string, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("reads", filename)
		require.NoError(t, err)
		io.WriteString(fw, content)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest("POST", "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, uploadRequest(t, map[string]string{
		"reference": "TBEV",
		"name":      "KZ tick 7",
		"date":      "2024-05-01",
		"host":      "Ixodes",
	}, "run7.FASTQ", "@r1\nACGT\n+\nIIII\n"))
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

	id := strings.TrimPrefix(rec.Header().Get("Location"), "/jobs/")
	task, err := f.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, pipeline.AppAssemble, task.App)
	assert.Equal(t, jobs.StatusQueued, task.Status)

	var req pipeline.AssembleRequest
	require.NoError(t, task.DecodeParameters(&req))
	assert.Equal(t, reference.TBEV, req.Reference)
	assert.Equal(t, "reads.fastq", req.Reads)
	assert.Equal(t, metadata.Submission{Name: "KZ tick 7", Date: "2024-05-01", Country: "Kazakhstan", Host: "Ixodes"}, req.Submission)

	dir, err := f.jobs.Dir(id)
	require.NoError(t, err)
	data, err := os.ReadFile(dir.File("reads.fastq"))
	require.NoError(t, err)
	assert.Equal(t, "@r1\nACGT\n+\nIIII\n", string(data))
}

func TestUpload_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		ref      string
		filename string
		content  string
		want     string
	}{
		{"unknown reference", "HIV", "a.fastq", "@r\nA\n+\nI\n", "TBEV or CCHF"},
		{"no file", "TBEV", "", "", "choose a fastq file"},
		{"wrong extension", "TBEV", "a.bam", "x", "not a fastq file"},
		{"empty file", "TBEV", "a.fq", "", "no sequence records"},
		{"fasta content", "CCHF", "a.fastq", ">s\nACGT\n", "expected fastq"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, uploadRequest(t, map[string]string{"reference": tt.ref}, tt.filename, tt.content))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)

			list, err := f.jobs.Enumerate(context.Background(), 0, 0)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestNextstrain(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 4)

	rec := f.do(t, httptest.NewRequest("GET", "/nextstrain?ref=TBEV", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `value="p3"`)
	assert.NotContains(t, rec.Body.String(), "AB062064")

	rec = f.do(t, httptest.NewRequest("GET", "/nextstrain?ref=TBEV&ncbi=true", nil))
	assert.Contains(t, rec.Body.String(), "AB062064")

	post := func(form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/nextstrain", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return f.do(t, req)
	}

	rec = post(url.Values{"ref": {"TBEV"}, "include": {"p0", "p1", "p2"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "you need more than 3 uploaded/selected to run nextstrain")

	rec = post(url.Values{"ref": {"TBEV"}, "include": {"p0", "p1", "p2", "AB062064"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "reference rows need ncbi")

	rec = post(url.Values{"ref": {"TBEV"}, "ncbi": {"true"}, "include": {"p0", "p1", "p2", "AB062064"}})
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	id := strings.TrimPrefix(rec.Header().Get("Location"), "/jobs/")
	task, err := f.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	var sel pipeline.Selection
	require.NoError(t, task.DecodeParameters(&sel))
	assert.Equal(t, pipeline.Selection{Reference: reference.TBEV, Names: []string{"p0", "p1", "p2", "AB062064"}, IncludeNCBI: true}, sel)
}

func TestEmbedding(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 4)

	rec := f.do(t, httptest.NewRequest("GET", "/embedding?ref=TBEV", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Select Legend Shape Variable")

	rec = f.do(t, httptest.NewRequest("GET", "/api/embedding?ref=TBEV&include=p0&include=p2&color=length", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got struct {
		Labels []metadata.Record `json:"labels"`
		Points []struct{ X, Y float64 }
		Matrix [][]float64 `json:"matrix"`
		Spec   struct {
			Encoding struct {
				Color struct{ Type string } `json:"color"`
			} `json:"encoding"`
		} `json:"spec"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Labels, 3)
	assert.Equal(t, "p0", got.Labels[0].Name)
	assert.Equal(t, metadata.TypeProject, got.Labels[0].Type)
	assert.Equal(t, metadata.TypeGenbank, got.Labels[2].Type)
	assert.Len(t, got.Points, 3)
	assert.InDelta(t, 1.0, got.Matrix[1][1], 1e-9)
	assert.Equal(t, "quantitative", got.Spec.Encoding.Color.Type)

	rec = f.do(t, httptest.NewRequest("GET", "/api/embedding?ref=TBEV&color=desc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, httptest.NewRequest("GET", "/api/embedding?ref=TBEV&include=missing", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	form := url.Values{"ref": {"TBEV"}, "explicit": {"1"}, "include": {"p1", "p3"}, "color": {"country"}, "shape": {"type"}}
	req := httptest.NewRequest("POST", "/embedding", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "vegaEmbed(")
	assert.Contains(t, rec.Body.String(), "3 TBEV sequences")
}

func TestChartSpec(t *testing.T) {
	res := &sketch.Result{
		Labels: []metadata.Record{
			{Name: "a", Length: 10, Country: "Kazakhstan", Type: metadata.TypeProject},
			{Name: "b", Length: 12, Type: metadata.TypeGenbank},
		},
		Points: []sketch.Point{{X: 1, Y: 2}, {X: -1, Y: 0}},
	}

	spec := ChartSpec(res, metadata.ColCountry, metadata.ColType)
	values := spec["data"].(map[string]any)["values"].([]map[string]any)
	require.Len(t, values, 2)
	assert.Equal(t, "Kazakhstan", values[0]["label"])
	assert.Equal(t, "unknown", values[1]["label"])
	assert.Equal(t, metadata.TypeGenbank, values[1]["shape"])
	assert.Equal(t, 1.0, values[0]["x"])

	color := spec["encoding"].(map[string]any)["color"].(map[string]any)
	assert.Equal(t, "nominal", color["type"])

	spec = ChartSpec(res, metadata.ColLength, metadata.ColType)
	values = spec["data"].(map[string]any)["values"].([]map[string]any)
	assert.Equal(t, 12, values[1]["label"])
}

func TestJobPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.jobs.Submit(ctx, pipeline.AppNextstrain, "TBEV", pipeline.Selection{Reference: reference.TBEV})
	require.NoError(t, err)
	dir, err := f.jobs.Dir(task.ID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dir.File(pipeline.MSAFile), []byte(">a\nACGT\n"), 0644))
	require.NoError(t, os.WriteFile(dir.File(pipeline.SAMFile), []byte("@HD\n"), 0644))

	rec := f.do(t, httptest.NewRequest("GET", "/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), task.ID)

	rec = f.do(t, httptest.NewRequest("GET", "/jobs/"+task.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), pipeline.MSAFile)
	assert.Contains(t, rec.Body.String(), "queued")

	rec = f.do(t, httptest.NewRequest("GET", "/api/jobs/"+task.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got jobs.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, task.ID, got.ID)

	assert.Equal(t, http.StatusNotFound, f.do(t, httptest.NewRequest("GET", "/jobs/missing", nil)).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, httptest.NewRequest("GET", "/api/jobs/missing", nil)).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, httptest.NewRequest("GET", "/jobs/"+task.ID+"/auspice.json", nil)).Code)

	require.NoError(t, os.WriteFile(dir.File(pipeline.AuspiceFile), []byte(`{"version":"v2"}`), 0644))
	rec = f.do(t, httptest.NewRequest("GET", "/jobs/"+task.ID+"/auspice.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"v2"}`, rec.Body.String())

	rec = f.do(t, httptest.NewRequest("GET", "/jobs/"+task.ID+"/files/"+pipeline.MSAFile, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ">a\nACGT\n", rec.Body.String())
	assert.Equal(t, http.StatusNotFound, f.do(t, httptest.NewRequest("GET", "/jobs/"+task.ID+"/files/nope.txt", nil)).Code)

	rec = f.do(t, httptest.NewRequest("GET", "/jobs/"+task.ID+"/archive", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, zf := range zr.File {
		names = append(names, zf.Name)
	}
	prefix := task.ID + "_output/"
	assert.Contains(t, names, prefix+pipeline.MSAFile)
	assert.Contains(t, names, prefix+pipeline.AuspiceFile)
	assert.NotContains(t, names, prefix+pipeline.SAMFile)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2)

	rec := f.do(t, httptest.NewRequest("GET", "/export?ref=TBEV", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "TBEV_export.zip")

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	assert.Len(t, zr.File, 3)

	assert.Equal(t, http.StatusBadRequest, f.do(t, httptest.NewRequest("GET", "/export?ref=XYZ", nil)).Code)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{5 << 20, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
