package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgbrelay/kgb/internal/commit"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunRequiresRepoID(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"--uri", "kgb1.example.com", "--commit-json", "-"}, strings.NewReader(""), &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "--repo-id is required")
}

func TestRunRejectsUnknownRepositoryKind(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"--repo-id", "myrepo", "--uri", "kgb1.example.com", "--repository", "cvs"}, strings.NewReader(""), &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "--repository must be")
}

func TestRunFailsWithNoServers(t *testing.T) {
	commitJSON := writeTemp(t, "commit.json", `{"id":"abc1234","author":"alice","log":"fix bug"}`)

	var stderr bytes.Buffer
	code := run([]string{"--repo-id", "myrepo", "--commit-json", commitJSON}, strings.NewReader(""), &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "no servers configured")
}

func TestRunFailsWithNoCommitSource(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"--repo-id", "myrepo", "--uri", "kgb1.example.com"}, strings.NewReader(""), &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "no commit source given")
}

func TestRunRejectsGitReflogExtraction(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"--repo-id", "myrepo", "--uri", "kgb1.example.com", "--repository", "git", "--git-reflog", "-"}, strings.NewReader("old new ref\n"), &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "not implemented")
}

func TestRunRejectsSvnExtraction(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"--repo-id", "myrepo", "--uri", "kgb1.example.com", "--repository", "svn", "/repos/proj", "42"}, strings.NewReader(""), &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "not implemented")
}

func TestRunRejectsInvalidCommitJSON(t *testing.T) {
	commitJSON := writeTemp(t, "commit.json", `{"author":"alice","log":"fix bug"}`) // missing id

	var stderr bytes.Buffer
	code := run([]string{"--repo-id", "myrepo", "--uri", "kgb1.example.com", "--commit-json", commitJSON}, strings.NewReader(""), &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "invalid commit")
}

func TestRunRejectsUnknownChangeAction(t *testing.T) {
	commitJSON := writeTemp(t, "commit.json", `{"id":"abc1234","author":"alice","log":"fix","changes":[{"action":"Z","path":"foo.go"}]}`)

	var stderr bytes.Buffer
	code := run([]string{"--repo-id", "myrepo", "--uri", "kgb1.example.com", "--commit-json", commitJSON}, strings.NewReader(""), &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "unknown action")
}

func TestBuildServerRefsMergesConfAndFlags(t *testing.T) {
	confPath := writeTemp(t, "kgb.yaml", `
servers:
  - uri: kgb1.example.com
    proxy: http://kgb1.example.com/rpc2
    password: secret1
  - uri: kgb2.example.com
    password: secret2
`)

	refs, err := buildServerRefs(confPath, "kgb3.example.com", "", "flagpw", 0, false)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, "kgb1.example.com", refs[0].URI)
	assert.Equal(t, "secret1", refs[0].Password)
	assert.Equal(t, "kgb2.example.com", refs[1].URI)
	assert.Equal(t, "secret2", refs[1].Password)
	assert.Equal(t, "kgb3.example.com", refs[2].URI)
	assert.Equal(t, "flagpw", refs[2].Password)
}

func TestBuildServerRefsWithoutConfOrURI(t *testing.T) {
	refs, err := buildServerRefs("", "", "", "", 0, false)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestCommitFromJSONParsesChanges(t *testing.T) {
	commitJSON := writeTemp(t, "commit.json", `{
		"id": "abc1234",
		"author": "alice",
		"log": "fix bug",
		"branch": "release-3",
		"module": "widgets",
		"rev_prefix": "abc",
		"changes": [
			{"action": "A", "path": "widgets/new.go"},
			{"action": "M", "path": "widgets/old.go", "prop_change": true}
		]
	}`)

	cm, revPrefix, err := commitFromJSON(commitJSON, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", revPrefix)
	assert.Equal(t, "abc1234", cm.ID)
	assert.Equal(t, "release-3", cm.Branch)
	assert.Equal(t, "widgets", cm.Module)
	require.Len(t, cm.Changes, 2)
	assert.Equal(t, commit.ActionAdded, cm.Changes[0].Action)
	assert.True(t, cm.Changes[1].PropChange)
}

func TestCommitFromJSONReadsStdin(t *testing.T) {
	body, err := json.Marshal(map[string]interface{}{"id": "deadbee", "author": "bob", "log": "hi"})
	require.NoError(t, err)

	cm, _, err := commitFromJSON("-", bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "deadbee", cm.ID)
}

func TestApplyBranchModuleRegexesRequiresTwoGroups(t *testing.T) {
	cm := commit.Commit{Changes: []commit.Change{{Action: commit.ActionModified, Path: "trunk/widgets/foo.go"}}}
	err := applyBranchModuleRegexes(&cm, []string{`^trunk/(\w+)/`}, false)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "exactly two capture groups")
}

func TestApplyBranchModuleRegexesExtractsAndStripsPrefix(t *testing.T) {
	cm := commit.Commit{Changes: []commit.Change{
		{Action: commit.ActionModified, Path: "branches/release-3/widgets/foo.go"},
		{Action: commit.ActionAdded, Path: "branches/release-3/widgets/bar.go"},
	}}

	err := applyBranchModuleRegexes(&cm, []string{`^branches/([^/]+)/([^/]+)/`}, false)
	require.NoError(t, err)
	assert.Equal(t, "release-3", cm.Module)
	assert.Equal(t, "widgets", cm.Branch)
	assert.Equal(t, "foo.go", cm.Changes[0].Path)
	assert.Equal(t, "bar.go", cm.Changes[1].Path)
}

func TestApplyBranchModuleRegexesSwapSwitchesGroups(t *testing.T) {
	cm := commit.Commit{Changes: []commit.Change{
		{Action: commit.ActionModified, Path: "branches/release-3/widgets/foo.go"},
	}}

	err := applyBranchModuleRegexes(&cm, []string{`^branches/([^/]+)/([^/]+)/`}, true)
	require.NoError(t, err)
	assert.Equal(t, "widgets", cm.Module)
	assert.Equal(t, "release-3", cm.Branch)
}

func TestApplyBranchModuleRegexesTriesSequentiallyUntilMatch(t *testing.T) {
	cm := commit.Commit{Changes: []commit.Change{
		{Action: commit.ActionModified, Path: "tags/v1.0/widgets/foo.go"},
	}}

	patterns := []string{
		`^branches/([^/]+)/([^/]+)/`,
		`^tags/([^/]+)/([^/]+)/`,
	}
	err := applyBranchModuleRegexes(&cm, patterns, false)
	require.NoError(t, err)
	assert.Equal(t, "v1.0", cm.Module)
	assert.Equal(t, "widgets", cm.Branch)
}

func TestApplyBranchModuleRegexesNoMatchLeavesCommitUnchanged(t *testing.T) {
	cm := commit.Commit{Branch: "", Module: "", Changes: []commit.Change{
		{Action: commit.ActionModified, Path: "trunk/widgets/foo.go"},
	}}

	err := applyBranchModuleRegexes(&cm, []string{`^branches/([^/]+)/([^/]+)/`}, false)
	require.NoError(t, err)
	assert.Empty(t, cm.Branch)
	assert.Empty(t, cm.Module)
}
