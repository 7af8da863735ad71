package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/kzlab/vgs/export"
	"github.com/kzlab/vgs/jobs"
	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/pipeline"
	"github.com/kzlab/vgs/readstats"
	"github.com/kzlab/vgs/reference"
	"github.com/kzlab/vgs/workspace"
	"go.uber.org/zap"
)

// readsExtensions are the accepted upload names, longest first.
var readsExtensions = []string{".fastq.gz", ".fq.gz", ".fastq", ".fq"}

type uploadForm struct {
	Reference  string
	Submission metadata.Submission
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "upload.html", "Upload a FastQ file", uploadForm{
		Reference:  string(reference.TBEV),
		Submission: metadata.Submission{Country: DefaultCountry},
	}, "")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.fail(w, r, fmt.Errorf("%w: reading upload: %w", errBadRequest, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := uploadForm{
		Reference: r.FormValue("reference"),
		Submission: metadata.Submission{
			Name:            strings.TrimSpace(r.FormValue("name")),
			Date:            strings.TrimSpace(r.FormValue("date")),
			Country:         strings.TrimSpace(r.FormValue("country")),
			IsolationSource: strings.TrimSpace(r.FormValue("isolation_source")),
			Host:            strings.TrimSpace(r.FormValue("host")),
		},
	}
	if form.Submission.Country == "" {
		form.Submission.Country = DefaultCountry
	}
	retry := func(err error) {
		s.render(w, statusOf(err), "upload.html", "Upload a FastQ file", form, err.Error())
	}

	ref, err := reference.Parse(form.Reference)
	if err != nil {
		retry(err)
		return
	}
	file, hdr, err := r.FormFile("reads")
	if err != nil {
		retry(fmt.Errorf("%w: choose a fastq file", errBadRequest))
		return
	}
	defer file.Close()

	ext := readsExtension(hdr.Filename)
	if ext == "" {
		retry(fmt.Errorf("%w: %s is not a fastq file (.fastq, .fq, optionally gzipped)", errBadRequest, hdr.Filename))
		return
	}

	req := pipeline.AssembleRequest{
		Reference:  ref,
		Reads:      "reads" + ext,
		Submission: form.Submission,
	}
	task, err := s.jobs.SubmitWith(r.Context(), pipeline.AppAssemble, string(ref), req, func(dir *workspace.Dir) error {
		return saveUpload(file, dir.File(req.Reads))
	})
	if err != nil {
		retry(err)
		return
	}

	s.logger.Info("reads uploaded",
		zap.String("job", task.ID),
		zap.String("file", hdr.Filename),
		zap.Int64("size", hdr.Size))
	http.Redirect(w, r, "/jobs/"+task.ID, http.StatusSeeOther)
}

func readsExtension(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range readsExtensions {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return ""
}

// saveUpload stores the upload and rejects files that hold no reads.
func saveUpload(src io.Reader, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return fmt.Errorf("saving upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	format, err := readstats.Sniff(dst)
	if err != nil {
		return err
	}
	if format != readstats.FormatFASTQ {
		return fmt.Errorf("%w: expected fastq records", readstats.ErrFormat)
	}
	return nil
}

type candidateRow struct {
	Include bool
	metadata.Record
}

type selectionForm struct {
	Reference string
	NCBI      bool
	Rows      []candidateRow
	// Embedding legend choices.
	Colors, Shapes []string
	Color, Shape   string
}

// selectionRows lists the candidates of ref; every row starts included.
func (s *Server) selectionRows(ref reference.Name, ncbi bool, included map[string]bool) ([]candidateRow, error) {
	table, err := s.pipeline.Candidates(ref, ncbi)
	if err != nil {
		return nil, err
	}
	rows := make([]candidateRow, 0, table.Len())
	for _, rec := range table.Records() {
		inc := included == nil || included[rec.Name]
		rows = append(rows, candidateRow{Include: inc, Record: rec})
	}
	return rows, nil
}

func parseRef(r *http.Request) (reference.Name, error) {
	v := r.FormValue("ref")
	if v == "" {
		return reference.TBEV, nil
	}
	return reference.Parse(v)
}

func checked(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b || v == "on"
}

func (s *Server) handleNextstrainForm(w http.ResponseWriter, r *http.Request) {
	ref, err := parseRef(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	form := selectionForm{Reference: string(ref), NCBI: checked(r.FormValue("ncbi"))}
	if form.Rows, err = s.selectionRows(ref, form.NCBI, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, http.StatusOK, "nextstrain.html", "Run Nextstrain", form, "")
}

func (s *Server) handleNextstrainSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	ref, err := parseRef(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sel := pipeline.Selection{
		Reference:   ref,
		Names:       r.Form["include"],
		IncludeNCBI: checked(r.FormValue("ncbi")),
	}

	submit := func() (*jobs.Task, error) {
		if len(sel.Names) < pipeline.MinNextstrainRecords {
			return nil, fmt.Errorf("%w (got %d)", pipeline.ErrTooFewRecords, len(sel.Names))
		}
		if _, err := s.pipeline.CheckSelection(sel); err != nil {
			return nil, err
		}
		return s.jobs.Submit(r.Context(), pipeline.AppNextstrain, string(ref), sel)
	}
	task, err := submit()
	if err != nil {
		form := selectionForm{Reference: string(ref), NCBI: sel.IncludeNCBI}
		included := make(map[string]bool, len(sel.Names))
		for _, n := range sel.Names {
			included[n] = true
		}
		form.Rows, _ = s.selectionRows(ref, sel.IncludeNCBI, included)
		s.render(w, statusOf(err), "nextstrain.html", "Run Nextstrain", form, err.Error())
		return
	}
	http.Redirect(w, r, "/jobs/"+task.ID, http.StatusSeeOther)
}

const jobsPerPage = 50

type jobsPage struct {
	Tasks   []*jobs.Task
	Summary map[jobs.Status]int
	Offset  int
	Next    int
	Prev    int
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.FormValue("offset"))
	offset = max(offset, 0)

	tasks, err := s.jobs.Enumerate(r.Context(), offset, jobsPerPage)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	summary, err := s.jobs.Summary(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data := jobsPage{Tasks: tasks, Summary: summary, Offset: offset, Next: -1, Prev: -1}
	if len(tasks) == jobsPerPage {
		data.Next = offset + jobsPerPage
	}
	if offset > 0 {
		data.Prev = max(offset-jobsPerPage, 0)
	}
	s.render(w, http.StatusOK, "jobs.html", "Jobs", data, "")
}

type jobPage struct {
	Task    *jobs.Task
	Log     string
	Files   []*workspace.ObjectMeta
	Auspice bool
	Names   []string
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data := jobPage{Task: task}
	if data.Log, err = s.jobs.Log(id); err != nil {
		s.fail(w, r, err)
		return
	}
	if dir, err := s.jobs.Dir(id); err == nil {
		data.Files, _ = dir.List()
		data.Auspice = task.Status == jobs.StatusCompleted && dir.Exists(pipeline.AuspiceFile)
	}
	if task.App == pipeline.AppAssemble && task.Status == jobs.StatusCompleted {
		var res pipeline.AssembleResult
		if err := task.DecodeResult(&res); err == nil {
			data.Names = res.Names()
		}
	}
	s.render(w, http.StatusOK, "job.html", "Job "+id, data, "")
}

func (s *Server) handleJobAPI(w http.ResponseWriter, r *http.Request) {
	task, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) jobDir(r *http.Request) (*workspace.Dir, error) {
	id := r.PathValue("id")
	if _, err := s.jobs.Get(r.Context(), id); err != nil {
		return nil, err
	}
	return s.jobs.Dir(id)
}

func (s *Server) handleAuspice(w http.ResponseWriter, r *http.Request) {
	dir, err := s.jobDir(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !dir.Exists(pipeline.AuspiceFile) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	http.ServeFile(w, r, dir.File(pipeline.AuspiceFile))
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	dir, err := s.jobDir(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := dir.Resolve(r.PathValue("name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(r.PathValue("name"))))
	http.ServeFile(w, r, p)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	dir, err := s.jobDir(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	name := dir.ID + "_output"
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".zip"))
	if err := export.Build(w, dir.Path, name); err != nil {
		// Headers are gone; the truncated archive is all the client sees.
		s.logger.Error("writing job archive", zap.String("job", dir.ID), zap.Error(err))
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ref, err := parseRef(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	project, _, err := s.pipeline.Catalog().Tables(ref)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	set := s.pipeline.Catalog().Set(ref)
	data, err := export.MetadataBytes(set, project, s.now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.ArchiveName(set)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}
