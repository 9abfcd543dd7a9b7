// Package picker asks the operator which client to connect to when
// several are running.
package picker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/lcudriver/lcu-driver/internal/theme"
	"github.com/lcudriver/lcu-driver/pkg/process"
)

// ErrCancelled is returned when the operator quits without choosing.
var ErrCancelled = errors.New("client selection cancelled")

// Model is the bubbletea model listing the candidates.
type Model struct {
	candidates []process.Credentials
	cursor     int
	chosen     int
	keys       KeyMap
	help       help.Model
	width      int
}

// NewModel lists candidates ordered by pid.
func NewModel(candidates []process.Credentials, keys KeyMap) Model {
	c := slices.Clone(candidates)
	slices.SortFunc(c, func(a, b process.Credentials) int { return a.PID - b.PID })
	return Model{candidates: c, chosen: -1, keys: keys, help: help.New()}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.candidates)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Choose):
			if len(m.candidates) > 0 {
				m.chosen = m.cursor
			}
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) View() string {
	if m.chosen >= 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(theme.Title.Render(fmt.Sprintf("%d League clients are running", len(m.candidates))))
	b.WriteString("\n\n")
	for i, c := range m.candidates {
		row := fmt.Sprintf("pid %-7d port %-6d %s", c.PID, c.Port, installPath(c))
		if i == m.cursor {
			b.WriteString(theme.Selected.Render(row))
		} else {
			b.WriteString(theme.Unselected.Render(row))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func installPath(c process.Credentials) string {
	if c.InstallPath == "" {
		return theme.Dim.Render("(install path unknown)")
	}
	return c.InstallPath
}

// Chosen returns the picked candidate, if any.
func (m Model) Chosen() (process.Credentials, bool) {
	if m.chosen < 0 {
		return process.Credentials{}, false
	}
	return m.candidates[m.chosen], true
}

// Picker is an lcu.Selector backed by an interactive terminal list.
type Picker struct {
	keys KeyMap
	in   io.Reader
	out  io.Writer
}

type Option func(*Picker)

// WithIO replaces the terminal, mostly for tests.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(p *Picker) {
		p.in = in
		p.out = out
	}
}

func WithKeyMap(k KeyMap) Option {
	return func(p *Picker) { p.keys = k }
}

func New(opts ...Option) *Picker {
	p := &Picker{keys: DefaultKeyMap()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Select runs the picker until the operator chooses or cancels.
func (p *Picker) Select(ctx context.Context, candidates []process.Credentials) (process.Credentials, error) {
	if len(candidates) == 0 {
		return process.Credentials{}, errors.New("no candidates")
	}
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if p.in != nil {
		opts = append(opts, tea.WithInput(p.in))
	}
	if p.out != nil {
		opts = append(opts, tea.WithOutput(p.out))
	}

	final, err := tea.NewProgram(NewModel(candidates, p.keys), opts...).Run()
	if err != nil {
		if ctx.Err() != nil {
			return process.Credentials{}, ctx.Err()
		}
		return process.Credentials{}, fmt.Errorf("running picker: %w", err)
	}
	chosen, ok := final.(Model).Chosen()
	if !ok {
		return process.Credentials{}, ErrCancelled
	}
	return chosen, nil
}
