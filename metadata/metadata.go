// Package metadata maintains the assembly metadata table.
//
// The table is an append-only list of records keyed by a unique sequence
// identifier. It is stored as a tab-delimited file with a header row and the
// raw sequence in the last column, one table per reference set. The same
// format is used for the reference database of public genomes.
package metadata

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kzlab/vgs/seqid"
)

// Column names of the stored table, in file order.
const (
	ColName            = "name"
	ColLength          = "length"
	ColDate            = "date"
	ColCountry         = "country"
	ColIsolationSource = "isolation_source"
	ColHost            = "host"
	ColDesc            = "desc"
	ColSeq             = "seq"
	ColType            = "type"
)

// Record type labels used in embeddings.
const (
	TypeProject = "Project Created"
	TypeGenbank = "Genbank"
)

var (
	// Columns is the stored column order.
	Columns = []string{ColName, ColLength, ColDate, ColCountry, ColIsolationSource, ColHost, ColDesc, ColSeq}

	// ExportColumns is Columns without the sequence.
	ExportColumns = []string{ColName, ColLength, ColDate, ColCountry, ColIsolationSource, ColHost, ColDesc}

	// AugurColumns are the columns handed to augur as sample metadata.
	AugurColumns = []string{ColName, ColDate, ColCountry, ColIsolationSource, ColHost}

	// LabelColumns describe a record in plots and tables.
	LabelColumns = []string{ColName, ColLength, ColDate, ColCountry, ColIsolationSource, ColHost, ColDesc, ColType}
)

// ErrNotFound is returned when a selected name is not in the table.
var ErrNotFound = errors.New("record not found")

// Record is one assembly (or reference genome) in the table.
type Record struct {
	Name            string `json:"name"`
	Length          int    `json:"length"`
	Date            string `json:"date"`
	Country         string `json:"country"`
	IsolationSource string `json:"isolation_source"`
	Host            string `json:"host"`
	Desc            string `json:"desc"`
	Seq             string `json:"-"`

	// Type labels where the record came from; it is not stored.
	Type string `json:"type,omitempty"`
}

// Field returns the value of the named column as text.
func (r Record) Field(col string) string {
	switch col {
	case ColName:
		return r.Name
	case ColLength:
		return strconv.Itoa(r.Length)
	case ColDate:
		return r.Date
	case ColCountry:
		return r.Country
	case ColIsolationSource:
		return r.IsolationSource
	case ColHost:
		return r.Host
	case ColDesc:
		return r.Desc
	case ColSeq:
		return r.Seq
	case ColType:
		return r.Type
	default:
		return ""
	}
}

// Submission holds the fields a user enters for an uploaded run.
type Submission struct {
	Name            string `json:"name"`
	Date            string `json:"date"`
	Country         string `json:"country"`
	IsolationSource string `json:"isolation_source"`
	Host            string `json:"host"`
}

// Sequence is a FASTA record.
type Sequence struct {
	ID   string
	Desc string
	Seq  string
}

// Table is an ordered collection of records with a name index.
type Table struct {
	records []Record
	index   map[string]int
}

// NewTable creates a table from records. When names repeat, lookups
// resolve to the first occurrence.
func NewTable(records ...Record) *Table {
	t := &Table{index: make(map[string]int, len(records))}
	for _, r := range records {
		t.add(r)
	}
	return t
}

func (t *Table) add(r Record) {
	if _, dup := t.index[r.Name]; !dup {
		t.index[r.Name] = len(t.records)
	}
	t.records = append(t.records, r)
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.records)
}

// Records returns a copy of the records in table order.
func (t *Table) Records() []Record {
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// Names returns every record name in table order.
func (t *Table) Names() []string {
	names := make([]string, len(t.records))
	for i, r := range t.records {
		names[i] = r.Name
	}
	return names
}

// Lookup finds a record by name.
func (t *Table) Lookup(name string) (Record, bool) {
	i, ok := t.index[name]
	if !ok {
		return Record{}, false
	}
	return t.records[i], true
}

// Select returns the records with the given names, in table order.
func (t *Table) Select(names []string) ([]Record, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := t.index[n]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, n)
		}
		want[n] = true
	}

	var out []Record
	for i, r := range t.records {
		if want[r.Name] && t.index[r.Name] == i {
			out = append(out, r)
		}
	}
	return out, nil
}

// WithType returns a copy of the table with every record labelled typ.
func (t *Table) WithType(typ string) *Table {
	records := t.Records()
	for i := range records {
		records[i].Type = typ
	}
	return NewTable(records...)
}

// Concat joins tables in order.
func Concat(tables ...*Table) *Table {
	out := NewTable()
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, r := range t.records {
			out.add(r)
		}
	}
	return out
}

// Append adds one record per consensus sequence and returns the new records.
//
// The submitted name is cleaned into an identifier (the sequence id is used
// when nothing survives cleaning) and made unique against the table itself
// and the reference names. Existing records are never modified.
func (t *Table) Append(sub Submission, consensus []Sequence, referenceNames []string) []Record {
	alloc := seqid.NewAllocator(t.Names(), referenceNames)

	added := make([]Record, 0, len(consensus))
	for _, s := range consensus {
		candidate := seqid.CleanName(sub.Name)
		if candidate == "" {
			candidate = s.ID
		}

		r := Record{
			Name:            alloc.Assign(candidate),
			Length:          len(s.Seq),
			Date:            sub.Date,
			Country:         sub.Country,
			IsolationSource: sub.IsolationSource,
			Host:            sub.Host,
			Desc:            describe(s),
			Seq:             s.Seq,
		}
		t.add(r)
		added = append(added, r)
	}
	return added
}

// describe is the FASTA header with the record id removed.
func describe(s Sequence) string {
	header := s.ID
	if s.Desc != "" {
		header += " " + s.Desc
	}
	if s.ID == "" {
		return strings.TrimSpace(header)
	}
	return strings.TrimSpace(strings.ReplaceAll(header, s.ID, ""))
}
