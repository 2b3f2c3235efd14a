package converter

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
)

// DefaultProgressInterval is the number of rows between progress lines.
const DefaultProgressInterval = 1000

// Progress prints the console output of one conversion: the banner, a
// "Rows: N" line every interval rows and the closing row count.
//
// OUTPUT:
//
//	================================
//	SHP to KML and CSV conversion...
//	--------------------------------
//	Rows: 1,000
//	------------
//	Rows: 1,234
type Progress struct {
	out      io.Writer
	interval int
}

// NewProgress creates a Progress writing to out. A non-positive interval
// falls back to DefaultProgressInterval; a nil writer discards everything.
func NewProgress(out io.Writer, interval int) *Progress {
	if out == nil {
		out = io.Discard
	}
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &Progress{out: out, interval: interval}
}

// Start prints the banner framing title.
func (p *Progress) Start(title string) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, strings.Repeat("=", len(title)))
	fmt.Fprintln(p.out, title)
	fmt.Fprintln(p.out, strings.Repeat("-", len(title)))
}

// Row reports the running row count and prints a line on every interval.
func (p *Progress) Row(rows int) {
	if rows > 0 && rows%p.interval == 0 {
		fmt.Fprintf(p.out, "Rows: %s\n", humanize.Comma(int64(rows)))
	}
}

// Finish prints the final row count.
func (p *Progress) Finish(rows int) {
	fmt.Fprintln(p.out, "------------")
	fmt.Fprintf(p.out, "Rows: %s\n", humanize.Comma(int64(rows)))
	fmt.Fprintln(p.out)
}
