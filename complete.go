package pcminfo

import (
	"errors"
	"strings"
)

// ErrNoMoreMatches tells a line editor that index ran past the matches.
// It is a signal, not a failure.
var ErrNoMoreMatches = errors.New("no more matches")

// Completer offers completions drawn from quit plus a session's command
// set. It is built once after the handshake and never changed.
type Completer struct {
	candidates []string
}

// NewCompleter returns a completer for the given daemon commands.
func NewCompleter(commands []string) *Completer {
	seen := map[string]bool{QuitCommand: true}
	candidates := []string{QuitCommand}
	for _, c := range commands {
		if seen[c] {
			continue
		}
		seen[c] = true
		candidates = append(candidates, c)
	}
	return &Completer{candidates: candidates}
}

// Candidates returns every completion candidate in order.
func (c *Completer) Candidates() []string {
	out := make([]string, len(c.candidates))
	copy(out, c.candidates)
	return out
}

// Matches returns the candidates that start with fragment. The match is
// case-sensitive and an empty fragment matches everything.
func (c *Completer) Matches(fragment string) []string {
	var out []string
	for _, cand := range c.candidates {
		if strings.HasPrefix(cand, fragment) {
			out = append(out, cand)
		}
	}
	return out
}

// Complete returns the index'th match for fragment, or ErrNoMoreMatches.
func (c *Completer) Complete(fragment string, index int) (string, error) {
	if index < 0 {
		return "", ErrNoMoreMatches
	}
	for _, cand := range c.candidates {
		if !strings.HasPrefix(cand, fragment) {
			continue
		}
		if index == 0 {
			return cand, nil
		}
		index--
	}
	return "", ErrNoMoreMatches
}

// AutoComplete has the signature of term.Terminal.AutoCompleteCallback. On
// Tab it extends the text before the cursor to the longest common prefix
// of its matches.
func (c *Completer) AutoComplete(line string, pos int, key rune) (string, int, bool) {
	if key != '\t' || pos > len(line) {
		return "", 0, false
	}
	fragment := line[:pos]
	var matches []string
	for i := 0; ; i++ {
		m, err := c.Complete(fragment, i)
		if errors.Is(err, ErrNoMoreMatches) {
			break
		}
		matches = append(matches, m)
	}
	if len(matches) == 0 {
		return "", 0, false
	}
	prefix := commonPrefix(matches)
	if prefix == fragment {
		return "", 0, false
	}
	return prefix + line[pos:], len(prefix), true
}

func commonPrefix(words []string) string {
	prefix := words[0]
	for _, w := range words[1:] {
		for !strings.HasPrefix(w, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
