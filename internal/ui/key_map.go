package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	up        key.Binding
	down      key.Binding
	poll      key.Binding
	reconnect key.Binding
	publish   key.Binding
	help      key.Binding
	quit      key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		poll:      key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "poll now")),
		reconnect: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reconnect")),
		publish:   key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "publish")),
		help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more")),
		quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.poll, k.reconnect, k.help, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.up, k.down},
		{k.poll, k.reconnect, k.publish},
		{k.help, k.quit},
	}
}
