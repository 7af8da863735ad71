package metadata

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kzlab/vgs/internal/cli"
)

// Load reads a table file. A missing file is an empty table.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewTable(), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return t, nil
}

// Read parses a table. Columns are matched by header name so files with
// extra or reordered columns load; a name column is required.
func Read(r io.Reader) (*Table, error) {
	tr := cli.NewTabReader(r, true)
	if _, err := tr.Headers(); err != nil {
		if err == io.EOF {
			return NewTable(), nil
		}
		return nil, err
	}
	if !tr.HasColumn(ColName) {
		return nil, fmt.Errorf("missing %q column", ColName)
	}

	t := NewTable()
	for line := 2; ; line++ {
		row, err := tr.ReadMap()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		length, err := parseLength(row[ColLength])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec := Record{
			Name:            row[ColName],
			Length:          length,
			Date:            row[ColDate],
			Country:         row[ColCountry],
			IsolationSource: row[ColIsolationSource],
			Host:            row[ColHost],
			Desc:            row[ColDesc],
			Seq:             row[ColSeq],
			Type:            row[ColType],
		}
		if rec.Length == 0 && rec.Seq != "" {
			rec.Length = len(rec.Seq)
		}
		t.add(rec)
	}
	return t, nil
}

// parseLength accepts integers and the float form ("1234.0") that
// dataframe tools write for numeric columns.
func parseLength(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f != math.Trunc(f) {
		return 0, fmt.Errorf("invalid length %q", s)
	}
	return int(f), nil
}

// Save writes the full table, sequences included, replacing path atomically.
func (t *Table) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := WriteTSV(tmp, t.records, Columns); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// WriteTSV writes records with the given columns and a header row.
func WriteTSV(w io.Writer, records []Record, columns []string) error {
	tw := cli.NewTabWriter(w)
	if err := tw.WriteHeaders(columns); err != nil {
		return err
	}
	row := make([]string, len(columns))
	for _, r := range records {
		for i, c := range columns {
			row[i] = r.Field(c)
		}
		if err := tw.WriteRow(row...); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WriteTSVFile writes records to a new file at path.
func WriteTSVFile(path string, records []Record, columns []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTSV(f, records, columns); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
