package pcminfo

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// DefaultPrompt is shown before every line of input.
const DefaultPrompt = "--> "

// Console is where the shell reads commands and writes replies. The line
// editor behind it is free to offer completion from the active session.
type Console interface {
	io.Writer
	ReadLine() (string, error)
	SetCompleter(c *Completer)
}

// NewConsole returns a line-editing console when in is a terminal and a
// plain line scanner otherwise. The restore function undoes raw mode and
// must always be called.
func NewConsole(in, out *os.File, prompt string) (Console, func(), error) {
	fd := in.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return NewPlainConsole(in, out, prompt), func() {}, nil
	}
	oldState, err := term.MakeRaw(int(fd))
	if err != nil {
		return nil, func() {}, fmt.Errorf("setting raw mode: %w", err)
	}
	restore := func() { term.Restore(int(fd), oldState) }
	rw := struct {
		io.Reader
		io.Writer
	}{in, out}
	return NewTermConsole(rw, prompt), restore, nil
}

// TermConsole edits lines with golang.org/x/term and completes on Tab.
type TermConsole struct {
	t *term.Terminal
}

// NewTermConsole wraps rw, which should already be in raw mode.
func NewTermConsole(rw io.ReadWriter, prompt string) *TermConsole {
	return &TermConsole{t: term.NewTerminal(rw, prompt)}
}

func (c *TermConsole) ReadLine() (string, error) {
	return c.t.ReadLine()
}

func (c *TermConsole) Write(p []byte) (int, error) {
	return c.t.Write(p)
}

func (c *TermConsole) SetCompleter(comp *Completer) {
	if comp == nil {
		c.t.AutoCompleteCallback = nil
		return
	}
	c.t.AutoCompleteCallback = comp.AutoComplete
}

// PlainConsole reads newline-terminated input with no editing, for pipes
// and redirected files.
type PlainConsole struct {
	scanner *bufio.Scanner
	out     io.Writer
	prompt  string
}

func NewPlainConsole(in io.Reader, out io.Writer, prompt string) *PlainConsole {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &PlainConsole{scanner: scanner, out: out, prompt: prompt}
}

func (c *PlainConsole) ReadLine() (string, error) {
	if c.prompt != "" {
		io.WriteString(c.out, c.prompt)
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return c.scanner.Text(), nil
}

func (c *PlainConsole) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

// SetCompleter is a no-op: there is no line editor to drive it.
func (c *PlainConsole) SetCompleter(*Completer) {}
