package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// PrintBanner writes the startup banner. Colors follow the terminal's profile,
// so a plain pipe gets plain text.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	lines := []struct {
		text  string
		color string
	}{
		{`                 _         __                       `, "#818cf8"},
		{`  _ __ ___   ___| |_ __ _ / _| ___  _ __ _ __ ___   `, "#a78bfa"},
		{` | '_ ' _ \ / _ \ __/ _' | |_ / _ \| '__| '_ ' _ \  `, "#c084fc"},
		{` | | | | | |  __/ || (_| |  _| (_) | |  | | | | | | `, "#e879f9"},
		{` |_| |_| |_|\___|\__\__,_|_|  \___/|_|  |_| |_| |_| `, "#f472b6"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w, out.String("  presence "+strings.TrimSpace(version)).Faint())
	fmt.Fprintln(w)
}
