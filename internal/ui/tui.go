package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MrLemur/retcon/internal/models"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

type commitState int

const (
	statePending commitState = iota
	stateRunning
	stateComplete
	stateStuck
)

func (s commitState) marker() string {
	switch s {
	case stateRunning:
		return "[yellow]>[white]"
	case stateComplete:
		return "[green]✓[white]"
	case stateStuck:
		return "[red]✗[white]"
	default:
		return "[gray]·[white]"
	}
}

type commitRow struct {
	message string
	state   commitState
	entries []models.HistoryEntry
	verdict *models.Verdict
}

// Dashboard is the terminal UI for a reconstruction run. It implements the
// engine observer and renders progress, per-commit state and the log.
type Dashboard struct {
	App         *tview.Application
	MainFlex    *tview.Flex
	ProgressBar *tview.TextView
	CommitList  *tview.TextView
	Details     *tview.TextView
	LogView     *tview.TextView
	StatusBar   *tview.TextView

	mu       sync.Mutex
	rows     []commitRow
	current  int
	queue    func(func())
	onCancel func()
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewDashboard builds the terminal UI for spec. onCancel runs when the user
// presses Ctrl+C or q.
func NewDashboard(repoName string, spec models.HistorySpec, onCancel func()) *Dashboard {
	d := &Dashboard{
		App:      tview.NewApplication(),
		current:  -1,
		onCancel: onCancel,
		stopped:  make(chan struct{}),
	}
	d.queue = d.queueUpdate

	for _, c := range spec.Commits {
		row := commitRow{message: c.Message, entries: c.History}
		switch {
		case c.IsComplete():
			row.state = stateComplete
		case c.IsStuck():
			row.state = stateStuck
		}
		d.rows = append(d.rows, row)
	}

	header := tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetText(fmt.Sprintf("retcon: %s (%s -> %s)", repoName, spec.Source, spec.Cleaned)).
		SetTextColor(tcell.ColorYellow)

	d.ProgressBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)

	d.LogView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true).
		SetMaxLines(5000).
		SetChangedFunc(func() { d.App.Draw() })
	d.LogView.ScrollToEnd()
	d.LogView.SetBorder(true)
	d.LogView.SetTitle("Log")
	d.LogView.SetTitleColor(tcell.ColorGreen)

	d.CommitList = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	d.CommitList.SetBorder(true)
	d.CommitList.SetTitle("Commits")
	d.CommitList.SetTitleColor(tcell.ColorBlue)

	d.Details = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	d.Details.SetBorder(true)
	d.Details.SetTitle("Current Commit")
	d.Details.SetTitleColor(tcell.ColorPurple)

	d.StatusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[yellow]Press Ctrl+C or q to exit[white]")

	commitsFlex := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(d.CommitList, 0, 1, false).
		AddItem(d.Details, 0, 1, false)

	d.MainFlex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, 1, 1, false).
		AddItem(d.ProgressBar, 1, 1, false).
		AddItem(tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(commitsFlex, 0, 2, false).
			AddItem(d.LogView, 0, 3, false),
			0, 10, false).
		AddItem(d.StatusBar, 1, 1, false)

	d.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			d.cancel()
			return nil
		case tcell.KeyPgUp:
			_, _, _, height := d.LogView.GetInnerRect()
			row, _ := d.LogView.GetScrollOffset()
			d.LogView.ScrollTo(row-height+1, 0)
			return nil
		case tcell.KeyPgDn:
			_, _, _, height := d.LogView.GetInnerRect()
			row, _ := d.LogView.GetScrollOffset()
			d.LogView.ScrollTo(row+height-1, 0)
			return nil
		case tcell.KeyEnd:
			d.LogView.ScrollToEnd()
			return nil
		case tcell.KeyHome:
			d.LogView.ScrollTo(0, 0)
			return nil
		}
		if event.Key() == tcell.KeyRune && event.Rune() == 'q' {
			d.cancel()
			return nil
		}
		return event
	})

	d.render()
	return d
}

// LogWriter returns a writer that appends colored log output to the log pane
func (d *Dashboard) LogWriter() io.Writer {
	return tview.ANSIWriter(d.LogView)
}

// Run shows the dashboard and blocks until it is stopped
func (d *Dashboard) Run() error {
	defer d.markStopped()
	return d.App.SetRoot(d.MainFlex, true).Run()
}

// Stop closes the dashboard. Updates queued afterwards are dropped.
func (d *Dashboard) Stop() {
	d.markStopped()
	d.App.Stop()
}

// Done is closed once the dashboard has stopped
func (d *Dashboard) Done() <-chan struct{} {
	return d.stopped
}

func (d *Dashboard) cancel() {
	if d.onCancel != nil {
		d.onCancel()
	}
	d.Stop()
}

func (d *Dashboard) markStopped() {
	d.stopOnce.Do(func() { close(d.stopped) })
}

// queueUpdate runs f on the event loop. QueueUpdateDraw waits for the loop to
// pick f up, so the wait is abandoned once the dashboard stops.
func (d *Dashboard) queueUpdate(f func()) {
	select {
	case <-d.stopped:
		return
	default:
	}
	done := make(chan struct{})
	go func() {
		d.App.QueueUpdateDraw(f)
		close(done)
	}()
	select {
	case <-done:
	case <-d.stopped:
	}
}

// ShowOutcome displays a final message in a modal dialog. Closing it exits the dashboard.
func (d *Dashboard) ShowOutcome(message string, failed bool) {
	d.queue(func() {
		color := tcell.ColorGreen
		if failed {
			color = tcell.ColorRed
		}
		modal := tview.NewModal().
			SetText(message).
			AddButtons([]string{"Close"}).
			SetDoneFunc(func(int, string) { d.Stop() }).
			SetBackgroundColor(tcell.ColorDefault).
			SetTextColor(color)
		d.App.SetRoot(modal, true)
	})
}

// UpdateStatus updates the status bar text
func (d *Dashboard) UpdateStatus(text string) {
	d.queue(func() {
		d.StatusBar.SetText(fmt.Sprintf("[yellow]%s[white]", text))
	})
}

// CommitStarted marks the commit as running and selects it in the details pane
func (d *Dashboard) CommitStarted(index, total int, message string) {
	d.mu.Lock()
	if index < len(d.rows) {
		d.rows[index].state = stateRunning
	}
	d.current = index
	d.mu.Unlock()
	d.UpdateStatus(fmt.Sprintf("Reconstructing commit %d of %d", index+1, total))
	d.queue(d.render)
}

// EntryAppended records the entry and updates the commit's state
func (d *Dashboard) EntryAppended(index int, entry models.HistoryEntry) {
	d.mu.Lock()
	if index < len(d.rows) {
		row := &d.rows[index]
		row.entries = append(row.entries, entry)
		switch entry.(type) {
		case models.Complete:
			row.state = stateComplete
		case models.Stuck:
			row.state = stateStuck
		}
	}
	d.mu.Unlock()
	d.queue(d.render)
}

// VerificationFinished shows the latest build and test result
func (d *Dashboard) VerificationFinished(index int, verdict models.Verdict) {
	d.mu.Lock()
	if index < len(d.rows) {
		d.rows[index].verdict = &verdict
	}
	d.mu.Unlock()
	d.queue(d.render)
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	done := 0
	for _, row := range d.rows {
		if row.state == stateComplete {
			done++
		}
	}
	renderProgress(tviewText{d.ProgressBar}, done, len(d.rows))
	renderCommitList(tviewText{d.CommitList}, d.rows, d.current)
	if d.current >= 0 && d.current < len(d.rows) {
		renderDetails(tviewText{d.Details}, d.current, d.rows[d.current])
	}
}

// renderProgress draws the progress bar with the current status
func renderProgress(view TextView, done, total int) {
	if total == 0 {
		view.SetText("[yellow]No commits to process[white]")
		return
	}
	percentage := float64(done) / float64(total) * 100
	barWidth := 50
	completedWidth := barWidth * done / total
	var bar strings.Builder
	for i := 0; i < barWidth; i++ {
		if i < completedWidth {
			bar.WriteString("[green]█[white]")
		} else {
			bar.WriteString("[gray]░[white]")
		}
	}
	view.SetText(fmt.Sprintf("%s [green]%d/%d commits complete (%.1f%%)[white]", bar.String(), done, total, percentage))
}

func renderCommitList(view TextView, rows []commitRow, current int) {
	var b strings.Builder
	for i, row := range rows {
		label := tview.Escape(row.message)
		if i == current {
			label = "[::b]" + label + "[::-]"
		}
		fmt.Fprintf(&b, "%s %2d. %s\n", row.state.marker(), i+1, label)
	}
	view.SetText(b.String())
}

func renderDetails(view TextView, index int, row commitRow) {
	view.Clear()
	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]Commit %d:[white]\n%s\n\n", index+1, tview.Escape(row.message))
	b.WriteString("[yellow]History:[white]\n")
	if len(row.entries) == 0 {
		b.WriteString("(none)\n")
	}
	for _, entry := range row.entries {
		fmt.Fprintf(&b, "- %s\n", tview.Escape(models.DescribeEntry(entry)))
	}
	if row.verdict != nil {
		status := "[green]passed[white]"
		if !row.verdict.Passed {
			status = "[red]failed[white]"
		}
		fmt.Fprintf(&b, "\n[yellow]Last verification:[white] %s\n", status)
		if !row.verdict.Passed && row.verdict.Output != "" {
			b.WriteString(tview.Escape(lastLines(row.verdict.Output, 15)))
		}
	}
	view.SetText(b.String())
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
