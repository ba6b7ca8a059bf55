package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the conductor banner followed by a short status line.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	lines := []struct{ text, color string }{
		{`   ___                _            _             `, "#818cf8"},
		{`  / __|___ _ _  __| |_  _ __| |_ ___ _ _ `, "#a78bfa"},
		{` | (__/ _ \ ' \/ _` + "`" + ` | || / _|  _/ _ \ '_|`, "#c084fc"},
		{`  \___\___/_||_\__,_|\_,_\__|\__\___/_|  `, "#e879f9"},
	}
	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w, out.String("  "+version+"  /exit to quit").Faint())
	fmt.Fprintln(w)
}
