package cli

import (
	"fmt"
	"io"
	"time"
)

// progress redraws a single status line as bytes pass through it.
type progress struct {
	out   io.Writer
	label string
	total uint64
	done  uint64
	last  time.Time
}

func newProgress(out io.Writer, label string, total uint64) *progress {
	return &progress{out: out, label: label, total: total}
}

func (p *progress) add(n int) {
	p.done += uint64(n)
	if now := time.Now(); p.done == p.total || now.Sub(p.last) >= 100*time.Millisecond {
		p.last = now
		fmt.Fprintf(p.out, "\r%s  %s / %s", p.label, formatSize(p.done), formatSize(p.total))
	}
}

func (p *progress) finish() {
	fmt.Fprintln(p.out)
}

type progressReader struct {
	r io.Reader
	p *progress
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	pr.p.add(n)
	return n, err
}

type progressWriter struct {
	w io.Writer
	p *progress
}

func (pw *progressWriter) Write(b []byte) (int, error) {
	n, err := pw.w.Write(b)
	pw.p.add(n)
	return n, err
}
