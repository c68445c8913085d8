package formatter

import "strings"

// CollapseCommonDirectory computes the directory that covers the most
// paths (ties broken by preferring the longer directory) and strips it
// as a shared prefix (spec.md §4.4 step 2, §8 property 4).
//
// Paths are treated as absolute by prepending "/" before computing
// ancestors; the returned stripped paths have that leading "/" removed
// again, matching Change.String's display convention. If fewer than two
// paths are given, or no directory covers at least two of them, no
// collapse happens and prefix is "".
func CollapseCommonDirectory(paths []string) (prefix string, stripped []string) {
	if len(paths) < 2 {
		return "", append([]string(nil), paths...)
	}

	counts := make(map[string]int)
	for _, p := range paths {
		for _, dir := range ancestors("/" + strings.TrimPrefix(p, "/")) {
			counts[dir]++
		}
	}

	best := ""
	bestCount := 0
	for dir, count := range counts {
		if count < 2 {
			continue // require covering at least 2 paths to bother collapsing
		}
		if count > bestCount || (count == bestCount && len(dir) > len(best)) {
			best = dir
			bestCount = count
		}
	}

	if best == "" {
		return "", append([]string(nil), paths...)
	}

	out := make([]string, len(paths))
	for i, p := range paths {
		abs := "/" + strings.TrimPrefix(p, "/")
		rest := strings.TrimPrefix(abs, best)
		rest = strings.TrimPrefix(rest, "/")
		out[i] = rest
	}
	return strings.TrimPrefix(best, "/"), out
}

// ancestors returns every proper ancestor directory of an absolute path,
// from its immediate parent up to and including "/".
func ancestors(absPath string) []string {
	var dirs []string
	dir := absPath
	for {
		idx := strings.LastIndex(dir, "/")
		if idx < 0 {
			break
		}
		dir = dir[:idx]
		if dir == "" {
			dirs = append(dirs, "/")
			break
		}
		dirs = append(dirs, dir)
	}
	return dirs
}
