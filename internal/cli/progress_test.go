package cli

import (
	"bytes"
	"testing"
)

func TestProgress_Nil(t *testing.T) {
	var p *Progress
	p.Increment()
	p.Set(1, 2)
	p.Finish()
	if r := p.Reader(nil); r != nil {
		t.Errorf("Reader(nil) = %v, want nil", r)
	}

	if got := NewProgress(10, true); got != nil {
		t.Errorf("NewProgress(quiet) = %v, want nil", got)
	}
}

func TestProgress_Writes(t *testing.T) {
	var buf bytes.Buffer
	p := newProgress(&buf, 3)
	p.Increment()
	p.Set(3, 3)
	p.Finish()

	if !bytes.Contains(buf.Bytes(), []byte("3 / 3")) {
		t.Errorf("progress output = %q, want it to contain %q", buf.String(), "3 / 3")
	}
}
