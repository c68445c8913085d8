package formatter

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kgbrelay/kgb/internal/commit"
)

// Input is what C4 (RPC ingress) hands off to the formatter after
// authentication (spec.md §4.3 step 6).
type Input struct {
	RepoID    string
	RevPrefix string
	Revision  string
	Changes   []string // canonical Change strings, spec.md §3
	Log       string
	Author    string
	Branch    *string
	Module    *string
}

// Format produces the ordered list of PRIVMSG payload lines for one
// commit, already chunked to fit the longest of channelNames
// (spec.md §4.4). Colors controls whether IRC colour escapes are emitted.
func Format(in Input, channelNames []string, palette Palette, colors bool) ([]string, error) {
	changes := make([]commit.Change, 0, len(in.Changes))
	for _, raw := range in.Changes {
		c, err := commit.ParseChange(raw)
		if err != nil {
			return nil, fmt.Errorf("formatter: %w", err)
		}
		changes = append(changes, c)
	}

	pathStr := buildPathString(changes, palette, colors)

	repoColored := Colorize(in.RepoID, palette.Repository, colors)

	line0 := repoColored + " " + Colorize(in.Author, palette.Author, colors)
	if in.Branch != nil && *in.Branch != "" {
		line0 += " " + Colorize(*in.Branch, palette.Branch, colors)
	}
	line0 += " " + Colorize(in.RevPrefix+in.Revision, palette.Revision, colors)
	if in.Module != nil && *in.Module != "" {
		line0 += " " + Colorize(*in.Module, palette.Module, colors)
	}
	line0 += " " + pathStr

	lines := []string{line0}
	for _, logLine := range strings.Split(in.Log, "\n") {
		if logLine == "" {
			continue
		}
		lines = append(lines, repoColored+" "+logLine)
	}

	max := maxLineBytes(channelNames)
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, chunkLine(l, max, repoColored)...)
	}
	return out, nil
}

// maxLineBytes computes MAX per spec.md §4.4 step 6.
func maxLineBytes(channelNames []string) int {
	longest := 0
	for _, ch := range channelNames {
		if len(ch) > longest {
			longest = len(ch)
		}
	}
	max := 400 - len("PRIVMSG ") - longest
	if max < 1 {
		max = 1
	}
	return max
}

func buildPathString(changes []commit.Change, palette Palette, colors bool) string {
	if len(changes) > 4 {
		dirs := make(map[string]struct{})
		for _, c := range changes {
			dirs[path.Dir("/"+strings.TrimPrefix(c.Path, "/"))] = struct{}{}
		}
		if len(dirs) <= 1 {
			return "(" + strconv.Itoa(len(changes)) + " files)"
		}
		return "(" + strconv.Itoa(len(changes)) + " files in " + strconv.Itoa(len(dirs)) + " dirs)"
	}

	paths := make([]string, len(changes))
	for i, c := range changes {
		paths[i] = c.Path
	}
	prefix, stripped := CollapseCommonDirectory(paths)

	parts := make([]string, len(changes))
	for i, c := range changes {
		cc := c
		cc.Path = stripped[i]
		parts[i] = colorizeChange(cc, palette, colors)
	}

	rendered := strings.Join(parts, ", ")
	if prefix != "" {
		rendered = Colorize(prefix+"/", palette.Path, colors) + " " + rendered
	}
	return rendered
}

func colorizeChange(c commit.Change, palette Palette, colors bool) string {
	var actionStyle string
	switch c.Action {
	case commit.ActionAdded:
		actionStyle = palette.Addition
	case commit.ActionModified:
		actionStyle = palette.Modified
	case commit.ActionDeleted:
		actionStyle = palette.Deletion
	case commit.ActionReplaced:
		actionStyle = palette.Replaced
	}

	pathText := c.Path
	if c.PropChange {
		pathText = Colorize(pathText, "underline", colors)
	}

	if c.Action == commit.ActionModified && !c.PropChange {
		return pathText
	}

	marker := string(c.Action)
	if c.PropChange {
		marker += "+"
	}
	return Colorize("("+marker+")", actionStyle, colors) + pathText
}

// chunkLine splits a line so no emitted payload exceeds max bytes,
// prefixing continuations with repoColored (spec.md §4.4 step 6, §8
// property 5).
func chunkLine(line string, max int, repoColored string) []string {
	if len(line) <= max {
		return []string{line}
	}

	first := safeTruncate(line, max)
	chunks := []string{first}
	remaining := line[len(first):]

	prefix := repoColored + " "
	avail := max - len(prefix)
	if avail < 1 {
		avail = max
		prefix = ""
	}

	for len(remaining) > 0 {
		if len(remaining) <= avail {
			chunks = append(chunks, prefix+remaining)
			break
		}
		piece := safeTruncate(remaining, avail)
		chunks = append(chunks, prefix+piece)
		remaining = remaining[len(piece):]
	}
	return chunks
}

// safeTruncate cuts s to at most n bytes without splitting a UTF-8 rune.
func safeTruncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
