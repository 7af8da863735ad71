package cli

import (
	"io"
	"os"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/term"
)

// Progress is a progress bar drawn on stderr. The zero value and a nil
// *Progress draw nothing, so callers never need to check.
type Progress struct {
	bar *pb.ProgressBar
}

// NewProgress starts a bar counting to total when stderr is a terminal and
// quiet is false. A total of 0 draws a counter without a percentage.
func NewProgress(total int, quiet bool) *Progress {
	if quiet || !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return newProgress(os.Stderr, total)
}

// NewByteProgress is NewProgress counting bytes.
func NewByteProgress(total int64, quiet bool) *Progress {
	if quiet || !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	bar := pb.New64(total)
	bar.Set(pb.Bytes, true)
	bar.SetWriter(os.Stderr)
	bar.Start()
	return &Progress{bar: bar}
}

func newProgress(w io.Writer, total int) *Progress {
	bar := pb.New(total)
	bar.SetWriter(w)
	if total == 0 {
		bar.SetTemplate(pb.Simple)
	}
	bar.Start()
	return &Progress{bar: bar}
}

// Reader wraps r so that reading advances the bar.
func (p *Progress) Reader(r io.Reader) io.Reader {
	if p == nil || p.bar == nil {
		return r
	}
	return p.bar.NewProxyReader(r)
}

// Increment advances the bar by one.
func (p *Progress) Increment() {
	if p == nil || p.bar == nil {
		return
	}
	p.bar.Increment()
}

// Set moves the bar to done of total.
func (p *Progress) Set(done, total int) {
	if p == nil || p.bar == nil {
		return
	}
	p.bar.SetTotal(int64(total))
	p.bar.SetCurrent(int64(done))
}

// Finish stops the bar.
func (p *Progress) Finish() {
	if p == nil || p.bar == nil {
		return
	}
	p.bar.Finish()
}
