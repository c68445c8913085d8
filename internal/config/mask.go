package config

import "path/filepath"

// GlobMatch reports whether hostmask matches pattern, an IRC-style glob
// using '*' and '?' wildcards over a "nick!user@host" string. filepath.Match
// already implements exactly that wildcard grammar, so no separate glob
// engine is needed (no example repo carries an IRC mask matcher to ground
// on; this is deliberately the one place config falls back to stdlib).
func GlobMatch(pattern, hostmask string) bool {
	ok, err := filepath.Match(pattern, hostmask)
	if err != nil {
		return false
	}
	return ok
}
