package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// TabReader reads tab-delimited tables with an optional header row.
//
// Fields written by spreadsheet tools or pandas may be wrapped in double
// quotes with embedded quotes doubled; those are unquoted on read.
type TabReader struct {
	reader     *bufio.Reader
	headers    []string
	index      map[string]int
	delimiter  string
	hasHeader  bool
	headerRead bool
}

// NewTabReader creates a new tab-delimited reader.
func NewTabReader(r io.Reader, hasHeader bool) *TabReader {
	return &TabReader{
		reader:    bufio.NewReader(r),
		delimiter: "\t",
		hasHeader: hasHeader,
	}
}

// Headers returns the header row, or nil when the table has none.
// An empty input with a header yields io.EOF.
func (t *TabReader) Headers() ([]string, error) {
	if t.headerRead {
		return t.headers, nil
	}

	t.headerRead = true

	if !t.hasHeader {
		return nil, nil
	}

	line, err := t.readLine()
	if err != nil {
		return nil, err
	}

	t.headers = t.split(line)
	t.index = make(map[string]int, len(t.headers))
	for i, h := range t.headers {
		if _, dup := t.index[h]; !dup {
			t.index[h] = i
		}
	}
	return t.headers, nil
}

// Read reads the next row. Returns io.EOF when there are no more rows.
func (t *TabReader) Read() ([]string, error) {
	if !t.headerRead {
		if _, err := t.Headers(); err != nil {
			return nil, err
		}
	}

	line, err := t.readLine()
	if err != nil {
		return nil, err
	}

	return t.split(line), nil
}

// ReadMap reads the next row keyed by header name. Missing trailing
// fields are returned as empty strings.
func (t *TabReader) ReadMap() (map[string]string, error) {
	row, err := t.Read()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(t.headers))
	for i, h := range t.headers {
		if i < len(row) {
			m[h] = row[i]
		} else {
			m[h] = ""
		}
	}
	return m, nil
}

// HasColumn reports whether the header row contains name.
func (t *TabReader) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// FindColumn finds a column by header name or 1-based index.
// "0" or empty selects the last column and returns -1.
func (t *TabReader) FindColumn(col string) (int, error) {
	if col == "" || col == "0" {
		return -1, nil
	}

	if idx, err := strconv.Atoi(col); err == nil {
		if idx < 0 {
			return 0, fmt.Errorf("invalid column index: %d", idx)
		}
		return idx - 1, nil
	}

	if i, ok := t.index[col]; ok {
		return i, nil
	}

	return 0, fmt.Errorf("column %q not found in headers", col)
}

func (t *TabReader) split(line string) []string {
	fields := strings.Split(line, t.delimiter)
	for i, f := range fields {
		fields[i] = unquote(f)
	}
	return fields
}

// readLine reads a line, skipping empty lines.
func (t *TabReader) readLine() (string, error) {
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil && len(line) == 0 {
			return "", err
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" && err == nil {
			continue
		}
		if line == "" {
			return "", io.EOF
		}

		return line, nil
	}
}

func unquote(f string) string {
	if len(f) >= 2 && f[0] == '"' && f[len(f)-1] == '"' {
		return strings.ReplaceAll(f[1:len(f)-1], `""`, `"`)
	}
	return f
}

// TabWriter writes tab-delimited output.
type TabWriter struct {
	writer    *bufio.Writer
	delimiter string
}

// NewTabWriter creates a new tab-delimited writer.
func NewTabWriter(w io.Writer) *TabWriter {
	return &TabWriter{
		writer:    bufio.NewWriter(w),
		delimiter: "\t",
	}
}

// WriteHeaders writes the header row.
func (t *TabWriter) WriteHeaders(headers []string) error {
	return t.WriteRow(headers...)
}

// WriteRow writes a single row. Tabs and line breaks inside fields are
// replaced by spaces so every row stays on one line.
func (t *TabWriter) WriteRow(fields ...string) error {
	clean := make([]string, len(fields))
	for i, f := range fields {
		clean[i] = Sanitize(f)
	}
	_, err := t.writer.WriteString(strings.Join(clean, t.delimiter) + "\n")
	return err
}

// Flush flushes any buffered data to the underlying writer.
func (t *TabWriter) Flush() error {
	return t.writer.Flush()
}

var fieldReplacer = strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ", "\r", " ")

// Sanitize makes a value safe to store in a single tab-delimited field.
func Sanitize(s string) string {
	return fieldReplacer.Replace(s)
}

// OpenInput opens the input file, or returns stdin if path is empty.
func OpenInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// OpenOutput opens the output file, or returns stdout if path is empty.
func OpenOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}
