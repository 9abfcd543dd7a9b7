package picker

import (
	"bytes"
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lcudriver/lcu-driver/pkg/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var candidates = []process.Credentials{
	{PID: 300, Port: 50300, AuthToken: "c", InstallPath: "C:/Riot Games/League of Legends/"},
	{PID: 100, Port: 50100, AuthToken: "a"},
	{PID: 200, Port: 50200, AuthToken: "b"},
}

func press(m tea.Model, keys ...tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	for _, k := range keys {
		m, cmd = m.Update(k)
	}
	return m, cmd
}

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func TestModel_Navigation(t *testing.T) {
	tests := []struct {
		name    string
		keys    []tea.KeyMsg
		wantPID int
	}{
		{"enter picks first by pid", []tea.KeyMsg{{Type: tea.KeyEnter}}, 100},
		{"down", []tea.KeyMsg{{Type: tea.KeyDown}, {Type: tea.KeyEnter}}, 200},
		{"j twice", []tea.KeyMsg{runes("j"), runes("j"), {Type: tea.KeyEnter}}, 300},
		{"down clamps at the end", []tea.KeyMsg{runes("j"), runes("j"), runes("j"), {Type: tea.KeyEnter}}, 300},
		{"up clamps at the start", []tea.KeyMsg{{Type: tea.KeyUp}, runes("k"), {Type: tea.KeyEnter}}, 100},
		{"space picks", []tea.KeyMsg{runes("j"), {Type: tea.KeySpace, Runes: []rune(" ")}}, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, cmd := press(NewModel(candidates, DefaultKeyMap()), tt.keys...)
			require.NotNil(t, cmd, "choosing quits the program")
			assert.IsType(t, tea.QuitMsg{}, cmd())

			got, ok := m.(Model).Chosen()
			require.True(t, ok)
			assert.Equal(t, tt.wantPID, got.PID)
		})
	}
}

func TestModel_Quit(t *testing.T) {
	for _, k := range []tea.KeyMsg{runes("q"), {Type: tea.KeyEsc}, {Type: tea.KeyCtrlC}} {
		m, cmd := press(NewModel(candidates, DefaultKeyMap()), runes("j"), k)
		require.NotNil(t, cmd)
		assert.IsType(t, tea.QuitMsg{}, cmd())
		_, ok := m.(Model).Chosen()
		assert.False(t, ok)
	}
}

func TestModel_View(t *testing.T) {
	m := NewModel(candidates, DefaultKeyMap())
	view := m.View()
	assert.Contains(t, view, "3 League clients are running")
	assert.Contains(t, view, "pid 100")
	assert.Contains(t, view, "C:/Riot Games/League of Legends/")
	assert.Contains(t, view, "install path unknown")
	assert.Less(t, strings.Index(view, "pid 100"), strings.Index(view, "pid 300"))

	m2, _ := press(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, m2.View())
}

func TestPicker_Select(t *testing.T) {
	var out bytes.Buffer
	p := New(WithIO(strings.NewReader("j\r"), &out))

	got, err := p.Select(context.Background(), candidates)
	require.NoError(t, err)
	assert.Equal(t, 200, got.PID)
}

func TestPicker_SelectCancelled(t *testing.T) {
	var out bytes.Buffer
	p := New(WithIO(strings.NewReader("q"), &out))

	_, err := p.Select(context.Background(), candidates)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestPicker_NoCandidates(t *testing.T) {
	_, err := New().Select(context.Background(), nil)
	assert.Error(t, err)
}
