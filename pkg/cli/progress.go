package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Progress prints a one-line bar for multi-item operations such as loading
// several ingestion files.
type Progress struct {
	mu      sync.Mutex
	writer  io.Writer
	label   string
	total   int
	current int
	detail  string
	started time.Time
}

// NewProgress creates a bar that writes to w (os.Stderr when nil).
func NewProgress(w io.Writer, label string) *Progress {
	if w == nil {
		w = os.Stderr
	}
	return &Progress{writer: w, label: label}
}

// Start resets the bar for total items.
func (p *Progress) Start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
	p.current = 0
	p.detail = ""
	p.started = time.Now()
	p.render()
}

// Advance marks one more item done and replaces the trailing detail text.
func (p *Progress) Advance(detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current < p.total {
		p.current++
	}
	p.detail = detail
	p.render()
}

// Finish completes the bar and ends the line.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = p.total
	p.render()
	fmt.Fprintf(p.writer, " (%s)\n", time.Since(p.started).Round(time.Millisecond))
}

// Error ends the line with err.
func (p *Progress) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.writer, "\n✗ Error: %v\n", err)
}

func (p *Progress) render() {
	if p.total == 0 {
		return
	}
	const width = 30
	filled := width * p.current / p.total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	line := fmt.Sprintf("\r%s [%s] %d/%d", p.label, bar, p.current, p.total)
	if p.detail != "" {
		line += " " + p.detail
	}
	fmt.Fprint(p.writer, line)
}
