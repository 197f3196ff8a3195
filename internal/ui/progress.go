package ui

import (
	"fmt"
	"io"

	"github.com/MrLemur/retcon/internal/models"
)

// ProgressPrinter writes one line per reconstruction event, for runs without the TUI
type ProgressPrinter struct {
	out   io.Writer
	total int
}

// NewProgressPrinter creates a printer writing to out
func NewProgressPrinter(out io.Writer) *ProgressPrinter {
	return &ProgressPrinter{out: out}
}

// CommitStarted prints the commit header line
func (p *ProgressPrinter) CommitStarted(index, total int, message string) {
	p.total = total
	fmt.Fprintf(p.out, "[%d/%d] %s\n", index+1, total, message)
}

// EntryAppended prints the new history entry
func (p *ProgressPrinter) EntryAppended(index int, entry models.HistoryEntry) {
	fmt.Fprintf(p.out, "[%d/%d]   %s\n", index+1, p.total, models.DescribeEntry(entry))
}

// VerificationFinished prints the build and test result
func (p *ProgressPrinter) VerificationFinished(index int, verdict models.Verdict) {
	status := "passed"
	if !verdict.Passed {
		status = "failed"
	}
	fmt.Fprintf(p.out, "[%d/%d]   verification %s\n", index+1, p.total, status)
}
