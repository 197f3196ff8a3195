package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/MrLemur/retcon/internal/models"
	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTextView struct {
	text    string
	cleared int
}

func (f *fakeTextView) Clear()              { f.cleared++; f.text = "" }
func (f *fakeTextView) SetText(text string) { f.text = text }
func (f *fakeTextView) GetText(bool) string { return f.text }

func TestRenderProgress(t *testing.T) {
	view := &fakeTextView{}

	renderProgress(view, 0, 0)
	assert.Contains(t, view.GetText(true), "No commits to process")

	renderProgress(view, 1, 4)
	assert.Contains(t, view.GetText(true), "1/4 commits complete (25.0%)")
}

func TestRenderCommitListAndDetails(t *testing.T) {
	rows := []commitRow{
		{message: "Add parser", state: stateComplete},
		{message: "Wire [parser]", state: stateStuck, entries: []models.HistoryEntry{
			models.CommitCreated{Hash: "a1"},
			models.Stuck{Summary: "circular dependency"},
		}, verdict: &models.Verdict{Output: "line1\nundefined: x\n"}},
	}

	list := &fakeTextView{}
	renderCommitList(list, rows, 1)
	assert.Contains(t, list.text, " 1. Add parser")
	assert.Contains(t, list.text, "[::b]Wire [parser[]")

	details := &fakeTextView{}
	renderDetails(details, 1, rows[1])
	assert.Equal(t, 1, details.cleared)
	assert.Contains(t, details.text, "Commit 2:")
	assert.Contains(t, details.text, "- stuck: circular dependency")
	assert.Contains(t, details.text, "undefined: x")
}

func TestDashboardFollowsEngineEvents(t *testing.T) {
	spec := models.HistorySpec{
		Source:  "messy",
		Cleaned: "clean",
		Commits: []models.CommitSpec{
			{Message: "one", History: []models.HistoryEntry{models.CommitCreated{Hash: "a"}, models.Complete{}}},
			{Message: "two"},
		},
	}
	d := NewDashboard("repo", spec, nil)
	d.queue = func(f func()) { f() }

	assert.Contains(t, d.ProgressBar.GetText(true), "1/2 commits complete")

	d.CommitStarted(1, 2, "two")
	assert.Contains(t, d.StatusBar.GetText(true), "Reconstructing commit 2 of 2")
	assert.Contains(t, d.Details.GetText(true), "Commit 2:")

	d.EntryAppended(1, models.CommitCreated{Hash: "b"})
	d.VerificationFinished(1, models.Verdict{Passed: true})
	d.EntryAppended(1, models.Complete{})

	assert.Contains(t, d.ProgressBar.GetText(true), "2/2 commits complete")
	assert.Contains(t, d.Details.GetText(true), "commit created b")
	assert.Contains(t, d.Details.GetText(true), "Last verification: passed")
}

func TestDashboardQuitCancelsAndDropsLaterUpdates(t *testing.T) {
	spec := models.HistorySpec{Source: "messy", Cleaned: "clean", Commits: []models.CommitSpec{{Message: "one"}}}
	keys := []struct {
		name string
		key  tcell.Key
		r    rune
		mod  tcell.ModMask
	}{
		{"ctrl+c", tcell.KeyCtrlC, 0, tcell.ModCtrl},
		{"q", tcell.KeyRune, 'q', tcell.ModNone},
	}
	for _, k := range keys {
		t.Run(k.name, func(t *testing.T) {
			cancelled := false
			d := NewDashboard("repo", spec, func() { cancelled = true })
			screen := tcell.NewSimulationScreen("UTF-8")
			d.App.SetScreen(screen)

			runErr := make(chan error, 1)
			go func() { runErr <- d.Run() }()
			screen.InjectKey(k.key, k.r, k.mod)

			select {
			case err := <-runErr:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("dashboard did not stop")
			}
			assert.True(t, cancelled)

			finished := make(chan struct{})
			go func() {
				d.CommitStarted(0, 1, "one")
				d.EntryAppended(0, models.CommitCreated{Hash: "a1"})
				d.ShowOutcome("context canceled", true)
				close(finished)
			}()
			select {
			case <-finished:
			case <-time.After(2 * time.Second):
				t.Fatal("updates after stop blocked")
			}
			select {
			case <-d.Done():
			default:
				t.Fatal("Done not closed after stop")
			}
		})
	}
}

func TestProgressPrinter(t *testing.T) {
	var out bytes.Buffer
	p := NewProgressPrinter(&out)

	p.CommitStarted(0, 2, "Add parser")
	p.EntryAppended(0, models.CommitCreated{Hash: "a1"})
	p.VerificationFinished(0, models.Verdict{Passed: false})

	assert.Equal(t, "[1/2] Add parser\n[1/2]   commit created a1\n[1/2]   verification failed\n", out.String())
}
