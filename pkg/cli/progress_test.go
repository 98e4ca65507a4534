package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "Loading")

	p.Start(2)
	p.Advance("a.jsonl: 10 chunks")
	p.Advance("b.jsonl: 5 chunks")
	p.Finish()

	out := buf.String()
	if !strings.Contains(out, "Loading [") {
		t.Errorf("expected label and bar, got %q", out)
	}
	if !strings.Contains(out, "2/2 b.jsonl: 5 chunks") {
		t.Errorf("expected final count and detail, got %q", out)
	}
	if !strings.HasSuffix(out, ")\n") {
		t.Errorf("expected finished line, got %q", out)
	}
}

func TestProgress_AdvanceStopsAtTotal(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "Loading")

	p.Start(1)
	p.Advance("")
	p.Advance("")

	if strings.Contains(buf.String(), "2/1") {
		t.Errorf("expected count capped at total, got %q", buf.String())
	}
}

func TestProgress_ZeroTotalAndError(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "Loading")

	p.Start(0)
	p.Advance("x")
	if buf.Len() != 0 {
		t.Errorf("expected no bar for zero total, got %q", buf.String())
	}

	p.Error(errors.New("disk full"))
	if !strings.Contains(buf.String(), "disk full") {
		t.Errorf("expected error text, got %q", buf.String())
	}
}
