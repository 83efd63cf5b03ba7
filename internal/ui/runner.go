package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Foodstream-io/livecall/internal/utils"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const refreshInterval = 500 * time.Millisecond

// CallStatus is the snapshot the live view renders.
type CallStatus struct {
	RoomID     string
	State      string
	Connection string
	Streams    []StreamRow
	Forwarded  uint64
	Received   uint64
	Applied    uint64
	Err        string
}

// StatusFunc is polled on every refresh.
type StatusFunc func() CallStatus

// CallUI shows a live call until the user quits or Stop is called.
type CallUI struct {
	program *tea.Program
	model   *callModel
	wg      sync.WaitGroup
}

type refreshMsg time.Time

type callModel struct {
	status    StatusFunc
	current   CallStatus
	spinner   spinner.Model
	startTime time.Time
	width     int

	quit     chan struct{}
	quitOnce sync.Once
	quitting bool
}

// NewCallUI creates the live view. status must be safe to call from the
// UI goroutine.
func NewCallUI(status StatusFunc) *CallUI {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	model := newCallModel(status, s)

	// Inline mode without the alt screen keeps earlier output visible.
	return &CallUI{
		model:   model,
		program: tea.NewProgram(model),
	}
}

func newCallModel(status StatusFunc, s spinner.Model) *callModel {
	return &callModel{
		status:    status,
		current:   status(),
		spinner:   s,
		startTime: time.Now(),
		quit:      make(chan struct{}),
	}
}

// Start runs the UI in a goroutine
func (ui *CallUI) Start() {
	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		if _, err := ui.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

// Quit is closed when the user asks to leave (q or ctrl+c).
func (ui *CallUI) Quit() <-chan struct{} {
	return ui.model.quit
}

// Stop ends the UI and restores the terminal.
func (ui *CallUI) Stop() {
	ui.program.Quit()
	ui.wg.Wait()
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m *callModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, refresh())
}

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			m.quitOnce.Do(func() { close(m.quit) })
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case refreshMsg:
		m.current = m.status()
		if m.quitting {
			return m, nil
		}
		return m, refresh()
	}

	return m, nil
}

func (m *callModel) View() string {
	if m.quitting {
		return ""
	}

	st := m.current
	var b strings.Builder

	b.WriteString(fmt.Sprintf("\n%s %s %s\n\n", IconRoom, BoldStyle.Render("Room"), StatusStyle.Render(st.RoomID)))

	icon := m.spinner.View()
	if st.State == "connected" && st.Connection == "connected" {
		icon = IconConnect
	}
	b.WriteString(fmt.Sprintf("%s Call: %s   Transport: %s   %s %s\n",
		icon,
		stateStyle(st.State).Render(st.State),
		stateStyle(st.Connection).Render(st.Connection),
		IconTime, MutedStyle.Render(utils.FormatTimeDuration(time.Since(m.startTime))),
	))

	b.WriteString(MutedStyle.Render(fmt.Sprintf("Candidates: %d sent, %d received, %d applied",
		st.Forwarded, st.Received, st.Applied)))
	b.WriteString("\n\n")

	if st.Err != "" {
		b.WriteString(ErrorStyle.Render(IconError+" "+st.Err) + "\n\n")
	}

	b.WriteString(StreamTableView(st.Streams))
	b.WriteString("\n\n" + MutedStyle.Render("Press q to leave the room"))

	return b.String()
}
