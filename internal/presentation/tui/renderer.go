package tui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/metaform/metaform-management/pkg/domain"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// NewRenderer returns a function that renders markdown using glamour.
func NewRenderer() (func(string) (string, error), error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return nil, err
	}

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}, nil
}

// SocketsTable renders entries as a markdown table.
func SocketsTable(entries []domain.SocketEntry) string {
	var sb strings.Builder
	sb.WriteString("| Socket | Open replies |\n|---|---|\n")
	for _, e := range entries {
		replies := "-"
		if e.State != nil && len(e.State.OpenReplies) > 0 {
			replies = strings.Join(e.State.OpenReplies, ", ")
		}
		fmt.Fprintf(&sb, "| `%s` | %s |\n", e.SocketID, replies)
	}
	fmt.Fprintf(&sb, "\n%d stored socket(s)\n", len(entries))
	return sb.String()
}
