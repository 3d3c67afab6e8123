package pcminfo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/acarl005/stripansi"
)

// Shell drives the read-send-print loop for one handshaken session.
type Shell struct {
	Session *Session
	Console Console
	// SlashOnly keeps lines that do not start with "/" on the client.
	SlashOnly bool
}

// Run loops until the user types quit, the input ends, or the session
// fails. Input EOF returns ErrInputClosed. The caller owns closing the
// session. ctx is checked between lines only: a cancel that arrives while
// ReadLine blocks takes effect once the next line is read.
func (sh *Shell) Run(ctx context.Context) error {
	sh.Console.SetCompleter(sh.Session.Completer())
	defer sh.Console.SetCompleter(nil)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := sh.Console.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrInputClosed
			}
			return fmt.Errorf("reading input: %w", err)
		}
		// Pasted text can carry color codes the daemon would reject.
		line = strings.TrimSpace(stripansi.Strip(line))
		switch {
		case line == QuitCommand:
			return nil
		case line == "":
			continue
		case sh.SlashOnly && !strings.HasPrefix(line, ListCommand):
			fmt.Fprintf(sh.Console, "commands start with %q, try %q for a list\n", ListCommand, ListCommand)
			continue
		}

		sh.Session.Logger.Debug("request", "cmd", line)
		reply, err := sh.Session.Do(line)
		if err != nil {
			if sh.Session.Closed() {
				return err
			}
			fmt.Fprintf(sh.Console, "error: %v\n", err)
			continue
		}
		if err := WriteReply(sh.Console, reply); err != nil {
			return err
		}
	}
}

// WriteReply prints a JSON reply indented by two spaces.
func WriteReply(w io.Writer, reply json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, reply, "", "  "); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
