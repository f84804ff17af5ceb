package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/internal/database"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/utils"
)

var (
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

const logLines = 15

// logBuffer is written by the logger and read by the console, which run on
// different goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimRight(b.buf.String(), "\n"), "\n")
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Every(5*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// console shows the live auctions and the server log.
type console struct {
	db        database.Service
	table     table.Model
	viewport  viewport.Model
	logs      *logBuffer
	lines     []string
	showTable bool
	quitting  bool
}

func newConsole(db database.Service, logs *logBuffer) console {
	columns := []table.Column{
		{Title: "AUCTION ID", Width: 36},
		{Title: "LEADER", Width: 20},
		{Title: "PRICE", Width: 14},
		{Title: "BIDS", Width: 6},
		{Title: "TIME LEFT", Width: 16},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	vp := viewport.New(110, logLines)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)

	c := console{db: db, table: t, viewport: vp, logs: logs, showTable: true}
	c.refreshRows()
	return c
}

func (c *console) refreshRows() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	auctions, err := c.db.GetActiveAuctions(ctx)
	if err != nil {
		log.Error("Error getting auctions", "err", err)
		return
	}

	rows := make([]table.Row, 0, len(auctions))
	for _, auction := range auctions {
		leader := "-"
		if auction.HasLeader() {
			leader = auction.Leader()
		}
		timeLeft := "Ended"
		if left := time.Until(auction.EndTime); left > 0 {
			timeLeft = left.Truncate(time.Second).String()
		}
		rows = append(rows, table.Row{
			auction.ID,
			leader,
			fmt.Sprint(auction.CurrentPrice),
			fmt.Sprint(auction.BidCount),
			timeLeft,
		})
	}
	c.table.SetRows(rows)
}

func (c *console) refreshLogs() {
	c.lines = utils.ColorizeLogs(c.logs.Lines())
	c.viewport.SetContent(strings.Join(c.lines, "\n"))
	c.viewport.GotoBottom()
}

func (c console) Init() tea.Cmd {
	return tick()
}

func (c console) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tickMsg:
		if c.showTable {
			c.refreshRows()
		} else {
			c.refreshLogs()
		}
		return c, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "tab":
			c.showTable = !c.showTable
			if c.showTable {
				c.refreshRows()
			} else {
				c.refreshLogs()
			}
			return c, nil
		case "q", "ctrl+c", "esc":
			c.quitting = true
			return c, tea.Quit
		}
	}

	if c.showTable {
		c.table, cmd = c.table.Update(msg)
		return c, cmd
	}
	c.viewport, cmd = c.viewport.Update(msg)
	return c, cmd
}

func (c console) View() string {
	if c.quitting {
		return "Bye!\n"
	}
	help := helpStyle.Render("• tab: switch modes • q: exit\n")
	if c.showTable {
		return baseStyle.Render(c.table.View()) + "\n" + help
	}
	return c.viewport.View() + "\n" + help
}
