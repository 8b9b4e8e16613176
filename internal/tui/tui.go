// Package tui implements the interactive BubbleTea search screen for
// semindex: a debounced search box over the multi-folder query.Router,
// with a scrollable result list. Adapted from sift's internal/tui (text
// input + debounced search command + result list model) to
// query.Router/model.SearchResult instead of a single-index code search.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/semindex/semindex/internal/model"
	"github.com/semindex/semindex/internal/query"
)

var (
	colorAccent = lipgloss.Color("#7C6AF7")
	colorDim    = lipgloss.Color("#555555")
	colorMuted  = lipgloss.Color("#888888")
	colorText   = lipgloss.Color("#DDDDDD")
	colorScore  = lipgloss.Color("#5ECEF5")
	colorErr    = lipgloss.Color("#FF6B6B")

	sTitle    = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	sAccent   = lipgloss.NewStyle().Foreground(colorAccent)
	sDim      = lipgloss.NewStyle().Foreground(colorDim)
	sMuted    = lipgloss.NewStyle().Foreground(colorMuted)
	sScore    = lipgloss.NewStyle().Foreground(colorScore).Bold(true)
	sDoc      = lipgloss.NewStyle().Foreground(colorText)
	sSnippet  = lipgloss.NewStyle().Foreground(colorMuted)
	sErr      = lipgloss.NewStyle().Foreground(colorErr)
	sSelected = lipgloss.NewStyle().Background(lipgloss.Color("#1E1A3A")).Foreground(colorText)
	sDivider  = lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))
)

type searchResultMsg struct {
	env   query.Envelope
	query string
}

type debounceMsg struct {
	query string
	id    int
}

func debounceCmd(q string, id int, delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(time.Time) tea.Msg { return debounceMsg{query: q, id: id} })
}

func searchCmd(router *query.Router, q string) tea.Cmd {
	return func() tea.Msg {
		env := router.Search(context.Background(), q, query.Options{TopK: 20})
		return searchResultMsg{env: env, query: q}
	}
}

// Model is the BubbleTea application model for `semindex tui`.
type Model struct {
	router *query.Router

	input   textinput.Model
	results []model.SearchResult
	cursor  int

	lastQuery  string
	debounceID int
	searching  bool
	err        error

	width, height int
}

// New creates a TUI model searching across every folder router knows.
func New(router *query.Router) Model {
	ti := textinput.New()
	ti.Placeholder = "search your indexed folders…"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 60
	ti.PromptStyle = sAccent
	ti.Prompt = "> "

	return Model{router: router, input: ti}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = m.width - 8
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+q", "esc":
			return m, tea.Quit
		case "up", "ctrl+p":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down", "ctrl+n":
			if m.cursor < len(m.results)-1 {
				m.cursor++
			}
			return m, nil
		}

	case debounceMsg:
		if msg.id == m.debounceID && msg.query == m.input.Value() {
			if strings.TrimSpace(msg.query) == "" {
				m.searching = false
				m.results = nil
				return m, nil
			}
			m.searching = true
			m.lastQuery = msg.query
			return m, searchCmd(m.router, msg.query)
		}
		return m, nil

	case searchResultMsg:
		if msg.query != m.input.Value() {
			return m, nil // stale result for a query the user already edited
		}
		m.searching = false
		if msg.env.Status.Code == query.CodeError {
			m.err = fmt.Errorf("%s", msg.env.Status.Message)
			m.results = nil
			return m, nil
		}
		m.err = nil
		if resp, ok := msg.env.Data.(model.SearchResponse); ok {
			m.results = resp.Results
		}
		m.cursor = 0
		return m, nil
	}

	prevVal := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != prevVal {
		m.debounceID++
		id := m.debounceID
		q := m.input.Value()
		return m, tea.Batch(cmd, debounceCmd(q, id, 250*time.Millisecond))
	}
	return m, cmd
}

func (m Model) View() string {
	if m.width == 0 {
		return ""
	}
	var b strings.Builder
	divider := sDivider.Render(strings.Repeat("-", clamp(m.width-2, 10, 200)))

	fmt.Fprintln(&b, "  "+sTitle.Render("semindex")+"  "+sMuted.Render("semantic folder search"))
	fmt.Fprintln(&b, "  "+m.input.View())
	fmt.Fprintln(&b, "  "+divider)

	switch {
	case m.err != nil:
		fmt.Fprintln(&b, sErr.Render("  error: "+m.err.Error()))
	case m.searching:
		fmt.Fprintln(&b, "  "+sMuted.Render("searching..."))
	case len(m.results) == 0 && m.input.Value() == "":
		fmt.Fprintln(&b, sMuted.Render("  start typing to search across every registered folder"))
	case len(m.results) == 0:
		fmt.Fprintln(&b, sMuted.Render("  no results for \""+m.lastQuery+"\""))
	default:
		m.renderResults(&b)
	}

	fmt.Fprintln(&b, "  "+divider)
	fmt.Fprintf(&b, "  %s\n", sDim.Render(fmt.Sprintf("%d results  up/down select  esc quit", len(m.results))))
	return b.String()
}

func (m Model) renderResults(b *strings.Builder) {
	maxRows := m.height - 7
	if maxRows < 1 {
		maxRows = 5
	}
	for i, r := range m.results {
		if i >= maxRows {
			fmt.Fprintf(b, "  %s\n", sDim.Render(fmt.Sprintf("... %d more results", len(m.results)-i)))
			break
		}
		score := sScore.Render(fmt.Sprintf("%.2f", r.Score))
		line := fmt.Sprintf("  %s  %s", score, sDoc.Render(r.DocumentID))
		if i == m.cursor {
			line = sSelected.Render(line)
		}
		fmt.Fprintln(b, line)
		fmt.Fprintln(b, "        "+sSnippet.Render(truncate(r.Content, 100)))
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
