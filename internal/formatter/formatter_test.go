package formatter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollapseCommonDirectoryExample(t *testing.T) {
	prefix, stripped := CollapseCommonDirectory([]string{"foo/b", "foo/x", "foo/bar/a"})
	assert.Equal(t, "foo", prefix)
	assert.Equal(t, []string{"b", "x", "bar/a"}, stripped)
}

func TestCollapseCommonDirectoryRequiresTwoPaths(t *testing.T) {
	prefix, stripped := CollapseCommonDirectory([]string{"only/one"})
	assert.Equal(t, "", prefix)
	assert.Equal(t, []string{"only/one"}, stripped)
}

func TestCollapseCommonDirectoryNoSharedAncestor(t *testing.T) {
	prefix, stripped := CollapseCommonDirectory([]string{"a/file1", "b/file2"})
	assert.Equal(t, "", prefix)
	assert.Equal(t, []string{"a/file1", "b/file2"}, stripped)
}

func stripColor(s string) string {
	var b strings.Builder
	skip := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == 0x02 || c == 0x1F || c == 0x16 || c == 0x0F:
			continue
		case c == 0x03:
			skip = true
			continue
		case skip && (c >= '0' && c <= '9'):
			continue
		default:
			skip = false
			b.WriteByte(c)
		}
	}
	return b.String()
}

func TestFormatS1SVNAdd(t *testing.T) {
	in := Input{
		RepoID:    "test",
		RevPrefix: "r",
		Revision:  "1",
		Changes:   []string{"(A)/file"},
		Log:       "add file",
		Author:    "alice",
	}
	lines, err := Format(in, []string{"#commits"}, DefaultPalette, true)
	require.NoError(t, err)
	require.NotEmpty(t, lines)
	assert.Equal(t, "test alice r1 (A)file", stripColor(lines[0]))
}

func TestFormatS2SVNModifyAbbreviates(t *testing.T) {
	in := Input{
		RepoID:    "test",
		RevPrefix: "r",
		Revision:  "2",
		Changes:   []string{"(M)/file"},
		Log:       "modify file",
		Author:    "alice",
	}
	lines, err := Format(in, []string{"#commits"}, DefaultPalette, true)
	require.NoError(t, err)
	assert.Equal(t, "test alice r2 file", stripColor(lines[0]))
}

func TestFormatS3UTF8Delete(t *testing.T) {
	logMsg := "remove file. Über cool with cyrillics: здрасти"
	in := Input{
		RepoID:    "test",
		RevPrefix: "r",
		Revision:  "4",
		Changes:   []string{"(D)/file"},
		Log:       logMsg,
		Author:    "alice",
	}
	lines, err := Format(in, []string{"#commits"}, DefaultPalette, true)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "test alice r4 (D)file", stripColor(lines[0]))
	assert.Equal(t, "test "+logMsg, stripColor(lines[1]))
}

func TestFormatSummarizesMoreThanFourChanges(t *testing.T) {
	in := Input{
		RepoID:   "test",
		Revision: "9",
		Changes: []string{
			"(M)a/one", "(M)a/two", "(M)a/three", "(M)b/four", "(M)b/five",
		},
		Log:    "big change",
		Author: "bob",
	}
	lines, err := Format(in, []string{"#commits"}, DefaultPalette, true)
	require.NoError(t, err)
	assert.Contains(t, stripColor(lines[0]), "(5 files in 2 dirs)")
}

func TestFormatNoColorsWhenDisabled(t *testing.T) {
	in := Input{RepoID: "test", Revision: "1", Changes: []string{"(A)/file"}, Author: "a", Log: ""}
	lines, err := Format(in, []string{"#c"}, DefaultPalette, false)
	require.NoError(t, err)
	assert.NotContains(t, lines[0], "\x02")
	assert.NotContains(t, lines[0], "\x03")
}

func TestChunkingNeverExceedsMaxAndReassembles(t *testing.T) {
	longLog := strings.Repeat("x", 900)
	in := Input{RepoID: "r", Revision: "1", Changes: []string{"(A)/f"}, Author: "a", Log: longLog}
	lines, err := Format(in, []string{"#channel"}, DefaultPalette, false)
	require.NoError(t, err)

	max := maxLineBytes([]string{"#channel"})
	var rebuilt strings.Builder
	for i, l := range lines {
		assert.LessOrEqual(t, len(l), max)
		switch i {
		case 0:
			continue // line 0 is not part of the log line
		case 1:
			rebuilt.WriteString(l) // the first chunk keeps the log line's own "r " prefix
		default:
			rebuilt.WriteString(strings.TrimPrefix(l, "r "))
		}
	}
	// the first chunk plus the un-prefixed continuations reassemble the
	// original log line
	assert.Equal(t, "r "+longLog, rebuilt.String())
}

func TestBranchAndModulePlacement(t *testing.T) {
	branch := "main"
	module := "core"
	in := Input{
		RepoID: "repo", Revision: "7", Changes: []string{"(A)/x"},
		Author: "dev", Branch: &branch, Module: &module,
	}
	lines, err := Format(in, []string{"#c"}, DefaultPalette, false)
	require.NoError(t, err)
	assert.Equal(t, "repo dev main 7 core (A)x", lines[0])
}
