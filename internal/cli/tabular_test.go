package cli

import (
	"io"
	"strings"
	"testing"
)

func TestTabReader_Headers(t *testing.T) {
	input := "name\tlength\tseq\nKZ_1\t4\tACGT"
	reader := NewTabReader(strings.NewReader(input), true)

	headers, err := reader.Headers()
	if err != nil {
		t.Fatalf("Headers() error = %v", err)
	}

	expected := []string{"name", "length", "seq"}
	if len(headers) != len(expected) {
		t.Fatalf("len(headers) = %d, want %d", len(headers), len(expected))
	}
	for i, h := range headers {
		if h != expected[i] {
			t.Errorf("headers[%d] = %q, want %q", i, h, expected[i])
		}
	}
	if !reader.HasColumn("seq") || reader.HasColumn("host") {
		t.Error("HasColumn() disagrees with header row")
	}
}

func TestTabReader_EmptyInput(t *testing.T) {
	reader := NewTabReader(strings.NewReader(""), true)
	if _, err := reader.Headers(); err != io.EOF {
		t.Errorf("Headers() on empty input error = %v, want io.EOF", err)
	}
}

func TestTabReader_NoHeaders(t *testing.T) {
	reader := NewTabReader(strings.NewReader("a\tb"), false)

	headers, err := reader.Headers()
	if err != nil {
		t.Fatalf("Headers() error = %v", err)
	}
	if headers != nil {
		t.Errorf("headers should be nil for no-header mode")
	}

	row, err := reader.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(row) != 2 || row[0] != "a" {
		t.Errorf("row = %v, want [a b]", row)
	}
}

func TestTabReader_Read(t *testing.T) {
	input := "name\thost\nKZ_1\ttick\n\r\nKZ_2\thuman\r\n"
	reader := NewTabReader(strings.NewReader(input), true)

	row, err := reader.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(row) != 2 || row[0] != "KZ_1" || row[1] != "tick" {
		t.Errorf("row = %v, want [KZ_1 tick]", row)
	}

	row, err = reader.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(row) != 2 || row[0] != "KZ_2" || row[1] != "human" {
		t.Errorf("row = %v, want [KZ_2 human]", row)
	}

	if _, err = reader.Read(); err != io.EOF {
		t.Errorf("Read() at EOF should return io.EOF, got %v", err)
	}
}

func TestTabReader_ReadMap(t *testing.T) {
	input := "name\tdesc\thost\nKZ_1\t\"says \"\"hi\"\"\"\n"
	reader := NewTabReader(strings.NewReader(input), true)

	row, err := reader.ReadMap()
	if err != nil {
		t.Fatalf("ReadMap() error = %v", err)
	}
	if row["name"] != "KZ_1" {
		t.Errorf("name = %q", row["name"])
	}
	if row["desc"] != `says "hi"` {
		t.Errorf("desc = %q, want unquoted", row["desc"])
	}
	if v, ok := row["host"]; !ok || v != "" {
		t.Errorf("host = %q, %v, want empty present", v, ok)
	}
}

func TestTabReader_FindColumn(t *testing.T) {
	reader := NewTabReader(strings.NewReader("id\tname\tvalue"), true)
	_, _ = reader.Headers()

	tests := []struct {
		col     string
		want    int
		wantErr bool
	}{
		{"0", -1, false},
		{"", -1, false},
		{"1", 0, false},
		{"3", 2, false},
		{"name", 1, false},
		{"unknown", 0, true},
		{"-1", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.col, func(t *testing.T) {
			got, err := reader.FindColumn(tt.col)
			if (err != nil) != tt.wantErr {
				t.Errorf("FindColumn(%q) error = %v, wantErr %v", tt.col, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("FindColumn(%q) = %d, want %d", tt.col, got, tt.want)
			}
		})
	}
}

func TestTabWriter_WriteRow(t *testing.T) {
	var buf strings.Builder
	writer := NewTabWriter(&buf)

	if err := writer.WriteRow("a", "b\tc", "line\nbreak"); err != nil {
		t.Fatalf("WriteRow() error = %v", err)
	}
	if err := writer.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	expected := "a\tb c\tline break\n"
	if buf.String() != expected {
		t.Errorf("output = %q, want %q", buf.String(), expected)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a\tb", "a b"},
		{"a\r\nb", "a b"},
		{"a\rb\nc", "a b c"},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
