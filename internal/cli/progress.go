package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/ictashik/OpenDataTagger/internal/client"
	"github.com/ictashik/OpenDataTagger/internal/service"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// snapshotMsg carries one progress update from the stream.
type snapshotMsg service.ProgressSnapshot

// streamDoneMsg reports that the stream ended.
type streamDoneMsg struct {
	err error
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	jobID    string
	snap     *service.ProgressSnapshot
	updates  <-chan tea.Msg
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(jobID string, updates <-chan tea.Msg) progressModel {
	return progressModel{
		jobID:   jobID,
		updates: updates,
		progress: progress.New(
			progress.WithDefaultBlend(),
			progress.WithWidth(40),
		),
		theme: defaultTheme,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), m.progress.Init())
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case snapshotMsg:
		snap := service.ProgressSnapshot(msg)
		m.snap = &snap
		if snap.Terminal() {
			m.done = true
			m.err = jobError(snap)
			return m, tea.Quit
		}
		return m, waitForUpdate(m.updates)

	case streamDoneMsg:
		m.done = true
		if msg.err != nil {
			m.err = fmt.Errorf("watch job: %w", msg.err)
		}
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}
	if m.snap == nil {
		return "Connecting to job...\n"
	}

	var pct float64
	if m.snap.Total > 0 {
		pct = float64(m.snap.Done) / float64(m.snap.Total)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.snap.Status))
	counts := fmt.Sprintf("%d/%d rows", m.snap.Done, m.snap.Total)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", status, m.progress.ViewAs(pct), counts)
	if n := len(m.snap.Logs); n > 0 {
		last := m.snap.Logs[n-1]
		fmt.Fprintf(&b, "  row %d %s: %s\n", last.RowIndex, last.Column, truncate(last.BestAnswer, 60))
	}
	b.WriteString(m.theme.hintStyle().Render("Press Ctrl+C to continue in background"))
	b.WriteString("\n")
	return b.String()
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'tagger watch %s' to check status.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	out := m.theme.completedStyle().Render("✓ Completed") + "\n"
	if m.snap != nil {
		out += fmt.Sprintf("\n  Rows tagged: %d\n", m.snap.Done)
		if m.snap.LastSave != "" {
			out += fmt.Sprintf("  Last saved:  %s\n", m.snap.LastSave)
		}
	}
	return out
}

func waitForUpdate(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// jobError returns the failure of a terminal snapshot, or nil if it finished.
func jobError(snap service.ProgressSnapshot) error {
	if snap.State == service.StateError.String() {
		return errors.New(strings.TrimPrefix(snap.Status, "error: "))
	}
	return nil
}

// streamUpdates watches a job in the background and forwards every
// snapshot, followed by a streamDoneMsg.
func streamUpdates(ctx context.Context, c *client.Client, id string) <-chan tea.Msg {
	ch := make(chan tea.Msg)
	go func() {
		err := c.Watch(ctx, id, func(snap service.ProgressSnapshot) error {
			select {
			case ch <- snapshotMsg(snap):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		select {
		case ch <- streamDoneMsg{err: err}:
		case <-ctx.Done():
		}
	}()
	return ch
}

// RunWatch follows a job until it ends. On a terminal it draws a progress
// bar; otherwise it prints one line per status change.
// Returns nil on success or Ctrl+C (background), error on job failure.
func RunWatch(ctx context.Context, c *client.Client, id string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return watchPlain(ctx, c, id)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(id, streamUpdates(ctx, c, id)))
	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		return m.err
	}
	return nil
}

func watchPlain(ctx context.Context, c *client.Client, id string) error {
	var last service.ProgressSnapshot
	err := c.Watch(ctx, id, func(snap service.ProgressSnapshot) error {
		if snap.Status != last.Status {
			fmt.Printf("%s  %d/%d\n", snap.Status, snap.Done, snap.Total)
		}
		last = snap
		return nil
	})
	if err != nil {
		return err
	}
	return jobError(last)
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
