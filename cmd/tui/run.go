package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the dashboard program against adminAddr, polling every
// interval. It blocks until the user quits.
func Run(adminAddr string, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	p := tea.NewProgram(NewModel(adminAddr, interval))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
