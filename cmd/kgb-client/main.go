// Command kgb-client is the repository-agnostic commit notifier
// (spec.md §6 "Client CLI contract"): it builds a Commit from either a
// JSON description or a VCS extraction step, then hands it to the
// client failover driver for delivery.
//
// VCS extraction itself (walking an actual svn/git repository to
// produce a Commit) is out of this build's scope — see spec.md's
// Non-goals and SPEC_FULL.md's --commit-json supplement. --repository
// and --git-reflog are accepted and validated for contract
// compatibility, but only --commit-json actually produces a Commit
// today; the other paths fail with a clear "not implemented" error
// rather than silently sending garbage.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/kgbrelay/kgb/internal/commit"
	internalkgbclient "github.com/kgbrelay/kgb/internal/kgbclient"
	"github.com/kgbrelay/kgb/pkg/kgbclient"
)

// multiFlag collects repeated occurrences of a flag, e.g.
// --branch-and-module-re '...' --branch-and-module-re '...'.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stderr))
}

func run(args []string, stdin io.Reader, stderr io.Writer) int {
	fs := flag.NewFlagSet("kgb-client", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		confPath       = fs.String("conf", "", "client config file listing candidate servers (YAML)")
		uri            = fs.String("uri", "", "logical server identity, used for auth/error reports")
		proxy          = fs.String("proxy", "", "HTTP endpoint to actually connect to (default uri+\"?session=KGB\")")
		repoID         = fs.String("repo-id", "", "repository identifier (required)")
		password       = fs.String("password", "", "shared secret for this repository")
		timeoutSecs    = fs.Float64("timeout", 15, "per-server request timeout, seconds")
		module         = fs.String("module", "", "override the commit's module")
		ignoreBranch   = fs.String("ignore-branch", "", "suppress the branch field if it equals this name")
		repository     = fs.String("repository", "", "source VCS kind: svn or git")
		gitReflog      = fs.String("git-reflog", "", "git reflog source: a path, or \"-\" for stdin")
		commitJSONPath = fs.String("commit-json", "", "read the commit to send from JSON: a path, or \"-\" for stdin")
		verbose        = fs.Bool("verbose", false, "log each server attempt to stderr")
		reSwap         bool
	)
	var branchModuleRe multiFlag
	fs.Var(&branchModuleRe, "branch-and-module-re", "regex with two capture groups (module, branch); repeatable")
	fs.BoolVar(&reSwap, "branch-and-module-re-swap", false, "swap the two capture groups (branch, module)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *repoID == "" {
		fmt.Fprintln(stderr, "kgb-client: --repo-id is required")
		return 2
	}
	if *repository != "" && *repository != "svn" && *repository != "git" {
		fmt.Fprintln(stderr, "kgb-client: --repository must be \"svn\" or \"git\"")
		return 2
	}

	refs, err := buildServerRefs(*confPath, *uri, *proxy, *password, time.Duration(*timeoutSecs*float64(time.Second)), *verbose)
	if err != nil {
		fmt.Fprintf(stderr, "kgb-client: %v\n", err)
		return 2
	}
	if len(refs) == 0 {
		fmt.Fprintln(stderr, "kgb-client: no servers configured (use --conf and/or --uri)")
		return 2
	}

	cm, revPrefix, err := buildCommit(*commitJSONPath, *repository, *gitReflog, fs.Args(), stdin)
	if err != nil {
		fmt.Fprintf(stderr, "kgb-client: %v\n", err)
		return 1
	}

	if len(branchModuleRe) > 0 && !cm.HasBranch() && !cm.HasModule() {
		if err := applyBranchModuleRegexes(&cm, branchModuleRe, reSwap); err != nil {
			fmt.Fprintf(stderr, "kgb-client: %v\n", err)
			return 2
		}
	}
	if *module != "" {
		cm.Module = *module
	}
	if *ignoreBranch != "" && cm.Branch == *ignoreBranch {
		cm.Branch = ""
	}

	if err := cm.Validate(); err != nil {
		fmt.Fprintf(stderr, "kgb-client: invalid commit: %v\n", err)
		return 2
	}

	factory := func(ref kgbclient.ServerRef) internalkgbclient.Caller {
		c := kgbclient.New(ref)
		if *verbose {
			c.OnVerbose(func(format string, a ...interface{}) {
				fmt.Fprintf(stderr, format+"\n", a...)
			})
		}
		return c
	}
	driver := internalkgbclient.New(refs, factory)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutSecs*float64(time.Second))*time.Duration(len(refs)))
	defer cancel()
	if err := driver.Send(ctx, *repoID, revPrefix, cm); err != nil {
		fmt.Fprintf(stderr, "kgb-client: %v\n", err)
		return 1
	}
	return 0
}

// buildServerRefs merges servers named in confPath (if any) with a
// single server built from the command-line flags (if --uri or --proxy
// was given), applying timeout/verbose to every resulting ref.
func buildServerRefs(confPath, uri, proxy, password string, timeout time.Duration, verbose bool) ([]kgbclient.ServerRef, error) {
	var refs []kgbclient.ServerRef

	if confPath != "" {
		data, err := os.ReadFile(confPath)
		if err != nil {
			return nil, fmt.Errorf("reading --conf: %w", err)
		}
		var doc clientConfigFile
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing --conf: %w", err)
		}
		for _, s := range doc.Servers {
			refs = append(refs, kgbclient.ServerRef{URI: s.URI, Proxy: s.Proxy, Password: s.Password})
		}
	}

	if uri != "" || proxy != "" {
		refs = append(refs, kgbclient.ServerRef{URI: uri, Proxy: proxy, Password: password})
	}

	for i := range refs {
		refs[i].Timeout = timeout
		refs[i].Verbose = verbose
		if refs[i].Password == "" {
			refs[i].Password = password
		}
	}
	return refs, nil
}

// clientConfigFile is the --conf YAML shape: a flat list of candidate
// servers for the failover driver to try.
type clientConfigFile struct {
	Servers []struct {
		URI      string `yaml:"uri"`
		Proxy    string `yaml:"proxy"`
		Password string `yaml:"password"`
	} `yaml:"servers"`
}

// buildCommit produces the Commit to send and its display rev-prefix.
// Only --commit-json is implemented; --repository/--git-reflog are
// validated but report a clear "not implemented" error rather than
// fabricating a Commit from data this build can't actually extract.
func buildCommit(commitJSONPath, repository, gitReflog string, positional []string, stdin io.Reader) (commit.Commit, string, error) {
	if commitJSONPath != "" {
		return commitFromJSON(commitJSONPath, stdin)
	}
	if repository == "git" && gitReflog != "" {
		return commit.Commit{}, "", fmt.Errorf("git reflog extraction is not implemented in this build; pass --commit-json instead")
	}
	if repository == "svn" && len(positional) == 2 {
		return commit.Commit{}, "", fmt.Errorf("svn revision extraction is not implemented in this build; pass --commit-json instead")
	}
	return commit.Commit{}, "", fmt.Errorf("no commit source given: pass --commit-json PATH|-")
}

type jsonChange struct {
	Action     string `json:"action"`
	Path       string `json:"path"`
	PropChange bool   `json:"prop_change"`
}

type jsonCommit struct {
	ID        string       `json:"id"`
	Author    string       `json:"author"`
	Log       string       `json:"log"`
	Branch    string       `json:"branch"`
	Module    string       `json:"module"`
	RevPrefix string       `json:"rev_prefix"`
	Changes   []jsonChange `json:"changes"`
}

func commitFromJSON(path string, stdin io.Reader) (commit.Commit, string, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return commit.Commit{}, "", fmt.Errorf("opening --commit-json: %w", err)
		}
		defer f.Close()
		r = f
	}

	var jc jsonCommit
	if err := json.NewDecoder(r).Decode(&jc); err != nil {
		return commit.Commit{}, "", fmt.Errorf("parsing --commit-json: %w", err)
	}

	changes := make([]commit.Change, 0, len(jc.Changes))
	for _, c := range jc.Changes {
		if c.Action == "" {
			return commit.Commit{}, "", fmt.Errorf("commit-json: change for %q is missing an action", c.Path)
		}
		action := commit.Action(c.Action[0])
		if !action.Valid() {
			return commit.Commit{}, "", fmt.Errorf("commit-json: unknown action %q for %q", c.Action, c.Path)
		}
		changes = append(changes, commit.Change{Action: action, Path: c.Path, PropChange: c.PropChange})
	}

	cm := commit.Commit{
		ID:      jc.ID,
		Author:  jc.Author,
		Log:     jc.Log,
		Branch:  jc.Branch,
		Module:  jc.Module,
		Changes: changes,
	}
	return cm, jc.RevPrefix, nil
}

// applyBranchModuleRegexes implements spec.md's REDESIGN FLAGS
// replacement for dynamic-code regex evaluation: each pattern must
// expose exactly two capture groups (module, branch — or swapped);
// patterns are tried in order against every change path, the first
// full match wins, and the matched prefix is then stripped from every
// path so later formatting shows paths relative to the branch/module
// root.
func applyBranchModuleRegexes(cm *commit.Commit, patterns []string, swap bool) error {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("invalid --branch-and-module-re %q: %w", p, err)
		}
		if n := re.NumSubexp(); n != 2 {
			return fmt.Errorf("--branch-and-module-re %q must have exactly two capture groups, has %d", p, n)
		}

		for _, ch := range cm.Changes {
			m := re.FindStringSubmatchIndex(ch.Path)
			if m == nil {
				continue
			}
			first, second := submatch(ch.Path, m, 1), submatch(ch.Path, m, 2)
			module, branch := first, second
			if swap {
				module, branch = second, first
			}
			cm.Module = module
			cm.Branch = branch

			prefix := ch.Path[:m[1]]
			for j := range cm.Changes {
				cm.Changes[j].Path = strings.TrimPrefix(cm.Changes[j].Path, prefix)
			}
			return nil
		}
	}
	return nil
}

func submatch(s string, idx []int, group int) string {
	start, end := idx[2*group], idx[2*group+1]
	if start < 0 || end < 0 {
		return ""
	}
	return s[start:end]
}
