package nut

import (
	"strings"
	"unicode"
)

// LineKind classifies one line received in reply to LIST VAR.
type LineKind int

const (
	LineSkip       LineKind = iota // noise or a line for another UPS
	LineVar                        // VAR <ups> <name> "<value>"
	LineEnd                        // END LIST VAR
	LineUnknownUPS                 // ERR UNKNOWN-UPS ...
	LineError                      // any other ERR reply
)

func (k LineKind) String() string {
	switch k {
	case LineVar:
		return "var"
	case LineEnd:
		return "end"
	case LineUnknownUPS:
		return "unknown-ups"
	case LineError:
		return "error"
	default:
		return "skip"
	}
}

// Line is the parsed form of a single protocol line.
type Line struct {
	Kind  LineKind
	Name  string
	Value string
}

const endListVar = "END LIST VAR"

// ParseLine classifies raw, a line read from upsd while listing variables for
// ups. It performs no I/O. VAR lines and the END LIST VAR <ups> form are only
// accepted when their UPS field is exactly ups; anything else that is not a
// control line is LineSkip.
func ParseLine(raw, ups string) Line {
	line := strings.TrimSpace(raw)

	switch {
	case line == endListVar, ups != "" && line == endListVar+" "+ups:
		return Line{Kind: LineEnd}
	case strings.HasPrefix(line, "ERR UNKNOWN-UPS"):
		return Line{Kind: LineUnknownUPS}
	case line == "ERR" || strings.HasPrefix(line, "ERR "):
		return Line{Kind: LineError}
	}

	if ups == "" {
		return Line{}
	}
	rest, ok := strings.CutPrefix(line, "VAR "+ups+" ")
	if !ok {
		return Line{}
	}
	name, quoted, ok := strings.Cut(rest, " ")
	if !ok || name == "" || strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return Line{}
	}
	if len(quoted) < 2 || quoted[0] != '"' || quoted[len(quoted)-1] != '"' {
		return Line{}
	}
	return Line{Kind: LineVar, Name: name, Value: quoted[1 : len(quoted)-1]}
}
