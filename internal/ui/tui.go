// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and the channels it signals the player on
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Control carries user requests from the TUI to the player
type Control struct {
	Quit     chan struct{}
	Reanchor chan struct{}
}

// NewControl creates a control handler
func NewControl() *Control {
	return &Control{
		Quit:     make(chan struct{}, 1),
		Reanchor: make(chan struct{}, 1),
	}
}

func (c *Control) signalQuit() {
	select {
	case c.Quit <- struct{}{}:
	default:
	}
}

func (c *Control) signalReanchor() {
	select {
	case c.Reanchor <- struct{}{}:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(ctrl *Control) Model {
	return Model{ctrl: ctrl}
}

// Run creates the TUI program; the caller starts it
func Run(ctrl *Control) *tea.Program {
	return tea.NewProgram(NewModel(ctrl), tea.WithAltScreen())
}
