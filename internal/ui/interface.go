package ui

import "github.com/rivo/tview"

// TextView defines an interface for text view components
// This allows for easier mocking in tests
type TextView interface {
	Clear()
	SetText(text string)
	GetText(bool) string
}

// tviewText adapts a tview text view to TextView
type tviewText struct {
	*tview.TextView
}

func (t tviewText) Clear() { t.TextView.Clear() }

func (t tviewText) SetText(text string) { t.TextView.SetText(text) }
