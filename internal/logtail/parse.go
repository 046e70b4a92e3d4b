// Package logtail follows the shared activity log and turns new lines into structured events.
package logtail

import (
	"strings"
	"time"
)

// SystemAgent tags every line that is not in the agent grammar.
const SystemAgent = "@System"

// Event is one parsed log line.
type Event struct {
	Timestamp string `json:"timestamp"`
	Agent     string `json:"agent"`
	Message   string `json:"message"`
	Raw       string `json:"raw"`
}

// ParseLine applies the two-branch line grammar:
//
//	tagged  = "[" timestamp "]" ws "@" word ":" ws message
//	system  = any other line
func ParseLine(line string, now time.Time) Event {
	if ev, ok := ParseTagged(line); ok {
		return ev
	}
	return SystemEvent(line, now)
}

// ParseTagged matches the tagged branch. The timestamp is the shortest bracketed prefix
// after which the rest of the line still parses, so "[a] b] @Pulse: x" has timestamp "a] b".
// The agent tag is "@" followed by letters, digits or underscores.
func ParseTagged(line string) (Event, bool) {
	if !strings.HasPrefix(line, "[") {
		return Event{}, false
	}
	for end := 1; end < len(line); end++ {
		if line[end] != ']' {
			continue
		}
		if agent, message, ok := parseTail(line[end+1:]); ok {
			return Event{Timestamp: line[1:end], Agent: agent, Message: message, Raw: line}, true
		}
	}
	return Event{}, false
}

// parseTail matches ws "@" word ":" ws message.
func parseTail(s string) (agent, message string, ok bool) {
	rest, ok := skipSpace(s)
	if !ok || !strings.HasPrefix(rest, "@") {
		return "", "", false
	}
	n := 1
	for n < len(rest) && isWordByte(rest[n]) {
		n++
	}
	if n == 1 {
		return "", "", false
	}
	agent = rest[:n]
	rest = rest[n:]
	if !strings.HasPrefix(rest, ":") {
		return "", "", false
	}
	message, ok = skipSpace(rest[1:])
	if !ok {
		return "", "", false
	}
	return agent, message, true
}

// SystemEvent is the fallback branch: the whole line becomes the message.
func SystemEvent(line string, now time.Time) Event {
	return Event{
		Timestamp: now.UTC().Format(time.RFC3339),
		Agent:     SystemAgent,
		Message:   line,
		Raw:       line,
	}
}

// skipSpace drops leading whitespace and reports whether there was at least one.
func skipSpace(s string) (string, bool) {
	trimmed := strings.TrimLeft(s, " \t")
	return trimmed, len(trimmed) < len(s)
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}
