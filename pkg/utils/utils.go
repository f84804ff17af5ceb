package utils

import (
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
)

var levelStyles = map[string]lipgloss.Style{
	"INFO": levelStyle("87", "16"),
	"WARN": levelStyle("192", "0"),
	"ERRO": levelStyle("204", "0"),
	"DEBU": levelStyle("63", "0"),
	"FATA": levelStyle("134", "0"),
}

// level order matters when a line mentions more than one.
var levels = []string{"FATA", "ERRO", "WARN", "INFO", "DEBU"}

func levelStyle(background, foreground string) lipgloss.Style {
	return lipgloss.NewStyle().
		Padding(0, 1, 0, 1).
		Bold(true).
		MaxWidth(80).
		Background(lipgloss.Color(background)).
		Foreground(lipgloss.Color(foreground))
}

// ColorizeLogs highlights the level tag of every log line in place.
func ColorizeLogs(logs []string) []string {
	for i, log := range logs {
		// Only style if not already styled (check for ANSI codes)
		if strings.Contains(log, "\x1b[") {
			continue
		}
		for _, level := range levels {
			if strings.Contains(log, level) {
				logs[i] = strings.Replace(log, level, levelStyles[level].Render(level), 1)
				break
			}
		}
	}
	return logs
}

// MaskName hides a bidder's display name, keeping at most its last four
// characters: "Nguyen Van Minh" becomes "****Minh".
func MaskName(name string) string {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n == 0 {
		return ""
	}
	keep := min(n/2, 4)
	runes := []rune(name)
	return "****" + string(runes[n-keep:])
}
