package wire

import (
	"crypto/sha1"
	"encoding/hex"
)

// Checksum computes the v1/v2 auth hash: SHA1_HEX over the UTF-8 byte
// concatenation, in this exact order, with no separator and no length
// prefix (spec.md §4.2):
//
//	repo_id ‖ revision ‖ changes[0] ‖ changes[1] ‖ … ‖ log ‖ author
//	       ‖ (branch if present) ‖ (module if present) ‖ password
//
// rev_prefix is deliberately excluded — v2 reuses the v1 hash.
func Checksum(repoID, revision string, changes []string, log, author string, branch, module *string, password string) string {
	h := sha1.New()
	h.Write([]byte(repoID))
	h.Write([]byte(revision))
	for _, c := range changes {
		h.Write([]byte(c))
	}
	h.Write([]byte(log))
	h.Write([]byte(author))
	if branch != nil {
		h.Write([]byte(*branch))
	}
	if module != nil {
		h.Write([]byte(*module))
	}
	h.Write([]byte(password))
	return hex.EncodeToString(h.Sum(nil))
}
