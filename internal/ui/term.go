package ui

import (
	"io"
	"os"

	"golang.org/x/term"
)

// Interactive reports whether w is a terminal that can redraw a progress
// line in place. Buffers, pipes and files are not, and neither is a
// terminal declared dumb through TERM.
func Interactive(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("TERM") == "dumb" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
