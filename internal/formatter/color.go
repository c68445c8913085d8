// Package formatter turns an accepted commit into the list of
// colourised IRC PRIVMSG payload lines the relay sends (spec.md §4.4).
package formatter

import "strings"

// IRC control codes (spec.md §4.4 colour table).
const (
	codeBold      = "\x02"
	codeUnderline = "\x1F"
	codeReverse   = "\x16"
	codeColor     = "\x03"
	codeTerminate = "\x0F"
)

// colorIndex is the two-digit mIRC colour index per name, 01..16 skipping
// 15, exactly as spec.md §4.4 lists them.
var colorIndex = map[string]string{
	"black":   "01",
	"navy":    "02",
	"green":   "03",
	"red":     "04",
	"brown":   "05",
	"purple":  "06",
	"orange":  "07",
	"yellow":  "08",
	"lime":    "09",
	"teal":    "10",
	"aqua":    "11",
	"blue":    "12",
	"fuchsia": "13",
	"silver":  "14",
	"white":   "16",
}

// Palette holds the style assigned to each role in an announcement
// (spec.md §4.4 "Default styles").
type Palette struct {
	Repository string
	Revision   string
	Path       string
	Author     string
	Branch     string
	Module     string
	Addition   string
	Modified   string
	Deletion   string
	Replaced   string
}

// DefaultPalette is the spec-mandated default styling.
var DefaultPalette = Palette{
	Repository: "bold",
	Revision:   "bold",
	Path:       "teal",
	Author:     "green",
	Branch:     "brown",
	Module:     "purple",
	Addition:   "green",
	Modified:   "teal",
	Deletion:   "bold+red",
	Replaced:   "reverse",
}

// style renders the control-code prefix for a style name, where a style
// name is either a bare token ("bold", "reverse", "underline") or a
// colour name, or a "+"-joined combination ("bold+red").
func style(name string) string {
	var b strings.Builder
	for _, part := range strings.Split(name, "+") {
		switch part {
		case "bold":
			b.WriteString(codeBold)
		case "underline":
			b.WriteString(codeUnderline)
		case "reverse":
			b.WriteString(codeReverse)
		default:
			if idx, ok := colorIndex[part]; ok {
				b.WriteString(codeColor)
				b.WriteString(idx)
			}
		}
	}
	return b.String()
}

// Colorize wraps text in the given style's control codes, terminated by
// codeTerminate, or returns text unchanged if colors is false (an
// operator may disable colour output entirely via global config).
func Colorize(text, styleName string, colors bool) string {
	if !colors || styleName == "" {
		return text
	}
	return style(styleName) + text + codeTerminate
}
