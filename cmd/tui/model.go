// Package tui implements an operational dashboard over a running sync
// engine node: active session count, commit throughput, and sync-cycle
// activity, polled from the admin HTTP surface.
package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Model is the Bubble Tea model for the dashboard.
type Model struct {
	AdminAddr string
	Interval  time.Duration

	ActiveSessions int
	LastCommittedID uint64
	LastRefresh    time.Time
	Err            error
	Loading        bool

	spinner spinner.Model
}

// NewModel creates a dashboard polling the given admin HTTP address.
func NewModel(adminAddr string, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{AdminAddr: adminAddr, Interval: interval, spinner: sp, Loading: true}
}

type tickMsg time.Time

type refreshMsg struct {
	activeSessions  int
	lastCommittedID uint64
	err             error
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchData(), m.scheduleTick(), m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.Loading = true
			return m, m.fetchData()
		}

	case tickMsg:
		m.Loading = true
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case refreshMsg:
		m.Loading = false
		m.Err = msg.err
		if msg.err == nil {
			m.ActiveSessions = msg.activeSessions
			m.LastCommittedID = msg.lastCommittedID
			m.LastRefresh = time.Now()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	header := titleStyle.Render("sync-engine dashboard")
	if m.Loading {
		header += " " + m.spinner.View()
	}
	header += "\n"

	if m.Err != nil {
		return header + errStyle.Render(fmt.Sprintf("poll failed: %v", m.Err)) + "\n(q to quit, r to refresh)"
	}

	body := fmt.Sprintf(
		"active sessions:   %d\nlast committed id: %d\nlast refresh:      %s",
		m.ActiveSessions, m.LastCommittedID, m.LastRefresh.Format(time.RFC3339),
	)

	return header + boxStyle.Render(body) + "\n(q to quit, r to refresh)"
}

func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.Interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetchData() tea.Cmd {
	return func() tea.Msg {
		sessions, err := fetchJSON[struct {
			ActiveSessions int `json:"active_sessions"`
		}](m.AdminAddr + "/debug/sessions")
		if err != nil {
			return refreshMsg{err: err}
		}

		commits, err := fetchJSON[struct {
			LastCommittedID uint64 `json:"last_committed_id"`
		}](m.AdminAddr + "/debug/commits/latest")
		if err != nil {
			return refreshMsg{err: err}
		}

		return refreshMsg{activeSessions: sessions.ActiveSessions, lastCommittedID: commits.LastCommittedID}
	}
}

func fetchJSON[T any](url string) (T, error) {
	var out T
	resp, err := http.Get(url)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
