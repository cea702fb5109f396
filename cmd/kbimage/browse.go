package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/wippyai/kbimage/image"
	"github.com/wippyai/kbimage/kbtest"
)

var browseCmd = &cobra.Command{
	Use:   "browse <image>",
	Short: "Browse an image's constructs interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := tea.NewProgram(newBrowseModel(args[0]), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

type browseModel struct {
	err      error
	eng      *image.Engine
	report   *image.Report
	filename string
	all      []kbtest.Construct
	shown    []kbtest.Construct
	filter   textinput.Model
	selected int
	state    browseState
}

type browseState int

const (
	stateList browseState = iota
	stateFilter
	stateDetail
)

func newBrowseModel(filename string) *browseModel {
	ti := textinput.New()
	ti.Placeholder = "glob, e.g. de*"
	ti.Prompt = "match: "
	ti.Width = 40
	return &browseModel{filename: filename, filter: ti, state: stateList}
}

type loadedMsg struct {
	err        error
	eng        *image.Engine
	report     *image.Report
	constructs []kbtest.Construct
}

func (m *browseModel) Init() tea.Cmd {
	return m.loadImage
}

func (m *browseModel) loadImage() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}
	eng, err := newEngine()
	if err != nil {
		return loadedMsg{err: err}
	}
	report, err := eng.Load(bytes.NewReader(data))
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{eng: eng, report: report, constructs: kbtest.Snapshot(eng.Env())}
}

func (m *browseModel) close() {
	if m.eng != nil {
		_ = m.eng.Clear()
		m.eng = nil
	}
}

func (m *browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateFilter {
			switch msg.String() {
			case "enter", "esc":
				m.filter.Blur()
				m.state = stateList
				if msg.String() == "esc" {
					m.filter.SetValue("")
				}
				m.applyFilter()
				return m, nil
			}
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.applyFilter()
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c", "q":
			m.close()
			return m, tea.Quit

		case "up", "k":
			if m.state == stateList && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateList && m.selected < len(m.shown)-1 {
				m.selected++
			}

		case "/":
			if m.state == stateList {
				m.state = stateFilter
				return m, m.filter.Focus()
			}

		case "enter":
			switch m.state {
			case stateList:
				if len(m.shown) > 0 {
					m.state = stateDetail
				}
			case stateDetail:
				m.state = stateList
			}

		case "esc":
			if m.state == stateDetail {
				m.state = stateList
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.eng = msg.eng
		m.report = msg.report
		m.all = msg.constructs
		m.applyFilter()
	}
	return m, nil
}

// applyFilter narrows the list to names matching the filter glob. An
// invalid pattern keeps the previous selection.
func (m *browseModel) applyFilter() {
	pattern := m.filter.Value()
	if pattern == "" {
		m.shown = m.all
	} else {
		g, err := glob.Compile(pattern)
		if err != nil {
			return
		}
		var shown []kbtest.Construct
		for _, c := range m.all {
			if g.Match(c.Name) {
				shown = append(shown, c)
			}
		}
		m.shown = shown
	}
	if m.selected >= len(m.shown) {
		m.selected = max(len(m.shown)-1, 0)
	}
}

func (m *browseModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.report == nil {
		return "Loading image..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("KB Image"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString(" ")
	b.WriteString(dimStyle.Render(m.report.ID.String()))
	b.WriteString("\n\n")

	switch m.state {
	case stateList, stateFilter:
		if m.state == stateFilter || m.filter.Value() != "" {
			b.WriteString(m.filter.View())
			b.WriteString("\n\n")
		}
		for i, c := range m.shown {
			line := formatConstruct(c)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		if len(m.shown) == 0 {
			b.WriteString(dimStyle.Render("  no constructs"))
			b.WriteString("\n")
		}
		for _, d := range m.report.Diagnostics {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render("warning: " + d.String()))
		}
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("↑/↓ select • / filter • enter details • q quit"))

	case stateDetail:
		c := m.shown[m.selected]
		b.WriteString(formatConstruct(c))
		b.WriteString("\n")
		if c.Detail != "" {
			b.WriteString(dimStyle.Render(c.Detail))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		for _, e := range c.Exprs {
			b.WriteString("  ")
			b.WriteString(okStyle.Render(e))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("enter back • q quit"))
	}
	return b.String()
}

func formatConstruct(c kbtest.Construct) string {
	return kindStyle.Render(c.Kind) + " " + c.Module + "::" + nameStyle.Render(c.Name)
}
