// Package ircsession implements the per-network IRC session manager (C7):
// connect/register/join, reconnection with backoff, nick reclaim, NickServ
// identification, CTCP replies, and bot-addressed command handling
// (spec.md §4.7).
package ircsession

import "strings"

// Message is one parsed IRC protocol line: an optional prefix, a command
// (numeric or verb), and its parameters, with the last parameter carrying
// the raw "trailing" text when the line used the ":" form.
type Message struct {
	Prefix  string
	Command string
	Params  []string
}

// ParseMessage decodes a single raw IRC line (no trailing CRLF).
func ParseMessage(line string) Message {
	var m Message
	if line == "" {
		return m
	}
	if strings.HasPrefix(line, ":") {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			m.Prefix = line[1:]
			return m
		}
		m.Prefix = line[1:sp]
		line = line[sp+1:]
	}

	for line != "" {
		if strings.HasPrefix(line, ":") {
			m.Params = append(m.Params, line[1:])
			break
		}
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			if m.Command == "" {
				m.Command = line
			} else {
				m.Params = append(m.Params, line)
			}
			break
		}
		word := line[:sp]
		line = strings.TrimLeft(line[sp+1:], " ")
		if m.Command == "" {
			m.Command = word
		} else {
			m.Params = append(m.Params, word)
		}
	}
	return m
}

// Param returns Params[i], or "" if out of range.
func (m Message) Param(i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

// Nick extracts the nick portion of an IRC prefix ("nick!user@host").
func Nick(prefix string) string {
	if i := strings.IndexByte(prefix, '!'); i >= 0 {
		return prefix[:i]
	}
	return prefix
}

// EncodeLine builds a raw IRC line from a command verb and parameters. The
// last parameter is sent with a ":" prefix (trailing) whenever it contains
// a space or is empty, matching how real IRC clients decide when trailing
// form is required.
func EncodeLine(command string, params ...string) string {
	var b strings.Builder
	b.WriteString(command)
	for i, p := range params {
		b.WriteByte(' ')
		last := i == len(params)-1
		if last && (p == "" || strings.ContainsRune(p, ' ') || strings.HasPrefix(p, ":")) {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	return b.String()
}
