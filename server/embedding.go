package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"slices"

	"github.com/kzlab/vgs/metadata"
	"github.com/kzlab/vgs/reference"
	"github.com/kzlab/vgs/sketch"
	"go.uber.org/zap"
)

// Legend variables offered for the embedding chart.
var (
	ColorChoices = []string{metadata.ColCountry, metadata.ColHost, metadata.ColDate, metadata.ColLength, metadata.ColType}
	ShapeChoices = []string{metadata.ColType, metadata.ColCountry, metadata.ColHost}
)

// embeddingRequest is the parsed form of an embedding page or API call.
type embeddingRequest struct {
	Reference reference.Name
	Names     []string
	Color     string
	Shape     string
	// Explicit marks a submitted include list; an empty one then selects
	// no project record instead of all of them.
	Explicit bool
}

func parseEmbeddingRequest(r *http.Request) (*embeddingRequest, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	ref, err := parseRef(r)
	if err != nil {
		return nil, err
	}
	req := &embeddingRequest{
		Reference: ref,
		Names:     r.Form["include"],
		Color:     r.FormValue("color"),
		Shape:     r.FormValue("shape"),
		Explicit:  r.FormValue("explicit") != "",
	}
	if req.Color == "" {
		req.Color = ColorChoices[0]
	}
	if req.Shape == "" {
		req.Shape = ShapeChoices[0]
	}
	if !slices.Contains(ColorChoices, req.Color) {
		return nil, fmt.Errorf("%w: unknown color variable %q", errBadRequest, req.Color)
	}
	if !slices.Contains(ShapeChoices, req.Shape) {
		return nil, fmt.Errorf("%w: unknown shape variable %q", errBadRequest, req.Shape)
	}
	return req, nil
}

// embed sketches the chosen project records together with the whole
// reference database. Without an include list every project record is used.
func (s *Server) embed(r *http.Request, req *embeddingRequest) (*sketch.Result, error) {
	project, ncbi, err := s.pipeline.Catalog().Tables(req.Reference)
	if err != nil {
		return nil, err
	}
	selected := project.Records()
	if len(req.Names) > 0 || req.Explicit {
		if selected, err = project.Select(req.Names); err != nil {
			return nil, err
		}
	}
	res, err := sketch.Process(r.Context(), selected, ncbi.Records(), s.sketch)
	if err != nil {
		return nil, err
	}
	s.logger.Info("embedding computed",
		zap.String("reference", string(req.Reference)),
		zap.Int("project", len(selected)),
		zap.Int("reference_records", ncbi.Len()))
	return res, nil
}

func (s *Server) handleEmbeddingForm(w http.ResponseWriter, r *http.Request) {
	ref, err := parseRef(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	form := selectionForm{
		Reference: string(ref),
		Colors:    ColorChoices,
		Shapes:    ShapeChoices,
		Color:     ColorChoices[0],
		Shape:     ShapeChoices[0],
	}
	if form.Rows, err = s.selectionRows(ref, false, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, http.StatusOK, "embedding.html", "Run Embedding", form, "")
}

type chartPage struct {
	Reference string
	Records   int
	Spec      template.JS
}

func (s *Server) handleEmbeddingChart(w http.ResponseWriter, r *http.Request) {
	req, err := parseEmbeddingRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.embed(r, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	spec, err := json.Marshal(ChartSpec(res, req.Color, req.Shape))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, http.StatusOK, "chart.html", "Embedding", chartPage{
		Reference: string(req.Reference),
		Records:   len(res.Labels),
		Spec:      template.JS(spec),
	}, "")
}

// embeddingResponse is the JSON form of an embedding.
type embeddingResponse struct {
	*sketch.Result
	Spec map[string]any `json:"spec"`
}

func (s *Server) handleEmbeddingAPI(w http.ResponseWriter, r *http.Request) {
	req, err := parseEmbeddingRequest(r)
	if err != nil {
		writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
		return
	}
	res, err := s.embed(r, req)
	if err != nil {
		writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, embeddingResponse{Result: res, Spec: ChartSpec(res, req.Color, req.Shape)})
}

// ChartSpec builds a Vega-Lite scatter plot of the embedding, coloured and
// shaped by the chosen label columns.
func ChartSpec(res *sketch.Result, color, shape string) map[string]any {
	values := make([]map[string]any, len(res.Points))
	for i, p := range res.Points {
		l := res.Labels[i]
		values[i] = map[string]any{
			"x":           p.X,
			"y":           p.Y,
			"label":       legendValue(l, color),
			"shape":       l.Field(shape),
			"Name":        l.Name,
			"Description": l.Desc,
			"Length":      l.Length,
			"Date":        l.Date,
			"Country":     l.Country,
			"Host":        l.Host,
			"Type":        l.Type,
		}
	}

	colorType := "nominal"
	if color == metadata.ColLength {
		colorType = "quantitative"
	}
	tooltip := []map[string]string{}
	for _, f := range []string{"Name", "Description", "Length", "Date", "Country", "Host"} {
		tooltip = append(tooltip, map[string]string{"field": f})
	}

	return map[string]any{
		"$schema": "https://vega.github.io/schema/vega-lite/v5.json",
		"width":   800,
		"height":  600,
		"data":    map[string]any{"values": values},
		"mark":    map[string]any{"type": "point", "filled": true, "size": 60},
		"encoding": map[string]any{
			"x":       map[string]any{"field": "x", "type": "quantitative"},
			"y":       map[string]any{"field": "y", "type": "quantitative"},
			"color":   map[string]any{"field": "label", "type": colorType, "title": color},
			"shape":   map[string]any{"field": "shape", "type": "nominal", "title": shape},
			"tooltip": tooltip,
		},
	}
}

func legendValue(r metadata.Record, col string) any {
	if col == metadata.ColLength {
		return r.Length
	}
	v := r.Field(col)
	if v == "" {
		return "unknown"
	}
	return v
}
