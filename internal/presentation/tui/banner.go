package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the orderdesk banner and version to w.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	p := out.ColorProfile()
	// Teal to blue, one shade per line
	lines := []struct{ text, color string }{
		{"                _             _           _    ", "#2dd4bf"},
		{"   ___  _ __ __| | ___ _ __ __| | ___  ___| | __", "#22d3ee"},
		{"  / _ \\| '__/ _` |/ _ \\ '__/ _` |/ _ \\/ __| |/ /", "#38bdf8"},
		{" | (_) | | | (_| |  __/ | | (_| |  __/\\__ \\   < ", "#60a5fa"},
		{"  \\___/|_|  \\__,_|\\___|_|  \\__,_|\\___||___/_|\\_\\", "#818cf8"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, out.String("  dental lab orders, v"+version).Faint())
	fmt.Fprintln(w)
}
