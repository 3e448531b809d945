// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package term is the interactive console session: a small REPL over a
// hub connection.
package term

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"corral/internal/client"
)

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	echoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#874BFD"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87")).
			Bold(true)

	busyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

type welcomeMsg string

type replyMsg struct {
	text string
	err  error
}

type disconnectedMsg struct {
	err error
}

type model struct {
	client *client.Client
	addr   string

	input    string
	lines    []string
	history  []string
	histPos  int
	busy     bool
	quitting bool
	lost     error
}

func newModel(c *client.Client, addr string) model {
	return model{
		client: c,
		addr:   addr,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.waitWelcome(), m.waitDone())
}

func (m model) waitWelcome() tea.Cmd {
	return func() tea.Msg {
		return welcomeMsg(<-m.client.Welcome())
	}
}

func (m model) waitDone() tea.Cmd {
	return func() tea.Msg {
		<-m.client.Done()
		return disconnectedMsg{err: m.client.Err()}
	}
}

func (m model) runCommand(line string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		text, err := m.client.Command(ctx, line)
		return replyMsg{text: text, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case welcomeMsg:
		m.lines = append(m.lines, bannerStyle.Render(string(msg)), "")
		return m, nil

	case replyMsg:
		m.busy = false
		if msg.err != nil {
			m.lines = append(m.lines, errorStyle.Render(msg.err.Error()))
		} else if msg.text != "" {
			m.lines = append(m.lines, strings.TrimRight(msg.text, "\n"))
		}
		return m, nil

	case disconnectedMsg:
		if m.quitting {
			return m, tea.Quit
		}
		m.lost = msg.err
		m.lines = append(m.lines, errorStyle.Render("Connection to hub lost."))
		return m, tea.Quit

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "ctrl+d":
		m.quitting = true
		m.client.Close()
		return m, tea.Quit

	case "enter":
		if m.busy {
			return m, nil
		}
		line := strings.TrimSpace(m.input)
		m.input = ""
		if line == "" {
			return m, nil
		}

		m.history = append(m.history, line)
		m.histPos = len(m.history)
		m.lines = append(m.lines, echoStyle.Render("> "+line))

		// Commands marked client-side never reach the hub.
		if line == "exit" {
			m.quitting = true
			m.client.Close()
			return m, tea.Quit
		}

		m.busy = true
		return m, m.runCommand(line)

	case "up":
		if m.histPos > 0 {
			m.histPos--
			m.input = m.history[m.histPos]
		}
		return m, nil

	case "down":
		if m.histPos < len(m.history)-1 {
			m.histPos++
			m.input = m.history[m.histPos]
		} else {
			m.histPos = len(m.history)
			m.input = ""
		}
		return m, nil

	case "backspace":
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil

	case "space":
		m.input += " "
		return m, nil

	default:
		if msg.Type == tea.KeyRunes {
			m.input += string(msg.Runes)
		}
		return m, nil
	}
}

func (m model) View() string {
	var b strings.Builder

	for _, line := range m.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}

	switch {
	case m.quitting || m.lost != nil:
	case m.busy:
		b.WriteString(busyStyle.Render("waiting for hub..."))
		b.WriteString("\n")
	default:
		b.WriteString(promptStyle.Render(m.addr+"> ") + m.input)
		b.WriteString("\n")
	}

	return b.String()
}

// Run connects to the hub and drives the console session until the user
// exits or the connection dies.
func Run(addr, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, addr, name)
	if err != nil {
		return err
	}
	defer c.Close()

	p := tea.NewProgram(newModel(c, addr))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("console session failed: %w", err)
	}
	return nil
}
