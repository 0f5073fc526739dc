package display

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Console writes human readable lines. Colors are enabled only when the
// destination is a terminal.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	err io.Writer

	info     *color.Color
	failure  *color.Color
	progress *color.Color
}

// NewConsole returns a Console writing messages to out and errors to errOut.
func NewConsole(out, errOut io.Writer) *Console {
	c := &Console{
		out:      out,
		err:      errOut,
		info:     color.New(color.FgGreen),
		failure:  color.New(color.FgRed, color.Bold),
		progress: color.New(color.FgCyan),
	}
	if !isTerminal(out) {
		c.info.DisableColor()
		c.progress.DisableColor()
	}
	if !isTerminal(errOut) {
		c.failure.DisableColor()
	}
	return c
}

// NewStdConsole writes to stdout and stderr.
func NewStdConsole() *Console {
	return NewConsole(os.Stdout, os.Stderr)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (c *Console) Message(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.info.Fprintln(c.out, text)
}

func (c *Console) Error(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.failure.Fprintln(c.err, text)
}

func (c *Console) Progress(label string, current, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.progress.Fprintln(c.out, fmt.Sprintf("[%d/%d] %s", current, total, label))
}

var _ Display = (*Console)(nil)
