package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/interop-bridge/config"
	"github.com/wippyai/interop-bridge/managed"
	"github.com/wippyai/interop-bridge/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type interactiveModel struct {
	err      error
	rt       *managed.Runtime
	result   string
	sessions []sessionInfo
	input    textinput.Model
	cfg      config.Config
	selected int
	state    modelState
	action   inputAction
}

type sessionInfo struct {
	name   string
	state  string
	handle session.Handle
	named  bool
}

type modelState int

const (
	stateList modelState = iota
	stateInput
	stateShowResult
)

type inputAction int

const (
	actionStart inputAction = iota
	actionRealloc
)

func newInteractiveModel(cfg config.Config) *interactiveModel {
	return &interactiveModel{
		cfg:   cfg,
		state: stateList,
	}
}

type loadedMsg struct {
	err error
	rt  *managed.Runtime
}

type actionResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadRuntime
}

func (m *interactiveModel) loadRuntime() tea.Msg {
	rt, err := managed.New(context.Background(), m.cfg)
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{rt: rt}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateInput {
			switch msg.String() {
			case "ctrl+c":
				return m, tea.Quit
			case "enter":
				return m, m.runAction
			case "esc":
				m.state = stateList
				return m, nil
			}
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "k":
			if m.state == stateList && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateList && m.selected < len(m.sessions)-1 {
				m.selected++
			}

		case "s":
			if m.state == stateList && m.rt != nil {
				m.prepareInput(actionStart, "name: ", "leave empty for an unnamed session")
			}

		case "r":
			if m.state == stateList && len(m.sessions) > 0 {
				m.prepareInput(actionRealloc, "capacity: ", "bytes")
			}

		case "x":
			if m.state == stateList && len(m.sessions) > 0 {
				return m, m.stopSelected
			}

		case "enter", "esc":
			if m.state == stateShowResult {
				m.state = stateList
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rt = msg.rt
		m.refresh()

	case actionResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
		m.refresh()
	}

	return m, nil
}

func (m *interactiveModel) prepareInput(action inputAction, prompt, placeholder string) {
	ti := textinput.New()
	ti.Prompt = prompt
	ti.Placeholder = placeholder
	ti.Width = 40
	ti.Focus()
	m.input = ti
	m.action = action
	m.state = stateInput
}

// refresh reloads the session list from the registry, ordered by handle.
func (m *interactiveModel) refresh() {
	m.sessions = m.sessions[:0]
	m.rt.Registry().Each(func(h session.Handle, s *session.Session) bool {
		name, ok := s.InstanceName()
		m.sessions = append(m.sessions, sessionInfo{
			handle: h,
			name:   name,
			named:  ok,
			state:  s.State().String(),
		})
		return true
	})
	sort.Slice(m.sessions, func(i, j int) bool {
		return m.sessions[i].handle < m.sessions[j].handle
	})
	if m.selected >= len(m.sessions) {
		m.selected = max(len(m.sessions)-1, 0)
	}
}

func (m *interactiveModel) runAction() tea.Msg {
	ctx := context.Background()
	value := strings.TrimSpace(m.input.Value())

	switch m.action {
	case actionStart:
		var (
			h   session.Handle
			err error
		)
		if value == "" {
			h, err = m.rt.StartUnnamed(ctx)
		} else {
			h, err = m.rt.Start(ctx, value)
		}
		if err != nil {
			return actionResultMsg{err: err}
		}
		return actionResultMsg{result: fmt.Sprintf("started %#x", uint64(h))}

	case actionRealloc:
		capacity, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return actionResultMsg{err: fmt.Errorf("capacity: %w", err)}
		}
		h := m.sessions[m.selected].handle
		addr, err := m.rt.Allocate(64)
		if err != nil {
			return actionResultMsg{err: err}
		}
		if err := m.rt.Realloc(ctx, h, addr, int32(capacity)); err != nil {
			return actionResultMsg{err: err}
		}
		return actionResultMsg{result: fmt.Sprintf("grew %#x to %d bytes", uint64(addr), capacity)}
	}
	return actionResultMsg{err: fmt.Errorf("unknown action %d", m.action)}
}

func (m *interactiveModel) stopSelected() tea.Msg {
	h := m.sessions[m.selected].handle
	if err := m.rt.Stop(context.Background(), h); err != nil {
		return actionResultMsg{err: err}
	}
	return actionResultMsg{result: fmt.Sprintf("stopped %#x", uint64(h))}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.rt == nil {
		return "Starting runtime..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Bridge Inspector"))
	b.WriteString(" ")
	b.WriteString(m.formatStats(m.rt.Stats()))
	b.WriteString("\n\n")

	switch m.state {
	case stateList:
		if len(m.sessions) == 0 {
			b.WriteString("No sessions.\n")
		}
		for i, s := range m.sessions {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + m.formatSession(s)))
			} else {
				b.WriteString("  " + m.formatSession(s))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • s start • r realloc • x stop • q quit"))

	case stateInput:
		if m.action == actionStart {
			b.WriteString("Start a session\n\n")
		} else {
			fmt.Fprintf(&b, "Grow a buffer for %s\n\n", funcStyle.Render(fmt.Sprintf("%#x", uint64(m.sessions[m.selected].handle))))
		}
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter run • esc back"))

	case stateShowResult:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatSession(s sessionInfo) string {
	name := s.name
	if !s.named {
		name = "(unnamed)"
	}
	return funcStyle.Render(fmt.Sprintf("%#x", uint64(s.handle))) + " " + name + " " + typeStyle.Render(s.state)
}

func (m *interactiveModel) formatStats(st managed.Stats) string {
	return typeStyle.Render(fmt.Sprintf("sessions %d • refs %d • types %d • heap %d/%d",
		st.Sessions, st.GlobalRefs, st.Types, st.HeapUsed, st.HeapSize))
}

func runInteractive(cfg config.Config) error {
	m := newInteractiveModel(cfg)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	if m.rt != nil {
		_ = m.rt.Close(context.Background())
	}
	return err
}
