package wire

import "encoding/json"

// Request is the JSON envelope posted to the RPC ingress (spec.md §4.2,
// §6 "POST /?session={service_name}"): a method name plus a positional
// argument list whose shape depends on the protocol version.
type Request struct {
	Method string        `json:"method"`
	Args   []interface{} `json:"args"`
}

// Response is the JSON envelope returned by the ingress: exactly one of
// Result or FaultCode/FaultString is populated.
type Response struct {
	Result      interface{} `json:"result,omitempty"`
	FaultCode   FaultCode   `json:"faultCode,omitempty"`
	FaultString string      `json:"faultString,omitempty"`
}

// OK builds a successful Response.
func OK(result interface{}) Response {
	return Response{Result: result}
}

// FaultResponse builds a Response carrying a Fault.
func FaultResponse(f *Fault) Response {
	return Response{FaultCode: f.Code, FaultString: f.FaultString}
}

// CommitArgs is the unified, version-normalized argument set for the
// "commit" method across protocol versions v0-v2 (spec.md §4.2).
type CommitArgs struct {
	Version   int
	RepoID    string
	Password  string // v0 only; empty implies anonymous (spec.md §9 open question a)
	Checksum  string // v1/v2 only
	RevPrefix string // v2 only; excluded from the checksum
	Revision  string
	Changes   []string
	Log       string
	Author    string
	Branch    *string
	Module    *string
}

// DiscriminateVersion implements the arity-discrimination rule (spec.md
// §4.2): if the first argument is not an integer, or the full argument
// list has length 6, the call is treated as v0. Otherwise arg[0] is the
// protocol version and is shifted off the front.
func DiscriminateVersion(args []interface{}) (version int, rest []interface{}) {
	if len(args) == 6 {
		return 0, args
	}
	if len(args) == 0 {
		return 0, args
	}
	n, ok := asInt(args[0])
	if !ok {
		return 0, args
	}
	return n, args[1:]
}

// ParseCommitArgs decodes the version-shifted positional argument list
// into a CommitArgs. Shapes (spec.md §4.2):
//
//	v0 (6 args):  repo_id, password, revision, changes, log, author
//	v1 (8 args):  repo_id, checksum, revision, changes, log, author, branch, module
//	v2 (9 args):  repo_id, checksum, rev_prefix, revision, changes, log, author, branch, module
func ParseCommitArgs(version int, rest []interface{}) (*CommitArgs, *Fault) {
	switch version {
	case 0:
		return parseV0(rest)
	case 1:
		return parseV1(rest)
	case 2:
		return parseV2(rest)
	default:
		return nil, NewArgumentsFault("unsupported protocol version %d", version)
	}
}

func parseV0(a []interface{}) (*CommitArgs, *Fault) {
	if len(a) != 6 {
		return nil, NewArgumentsFault("v0 commit expects 6 arguments, got %d", len(a))
	}
	repoID, ok1 := asString(a[0])
	password, ok2 := asString(a[1])
	revision, ok3 := asString(a[2])
	changes, ok4 := asStringSlice(a[3])
	log, ok5 := asString(a[4])
	author, ok6 := asString(a[5])
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return nil, NewArgumentsFault("v0 commit argument has wrong type")
	}
	return &CommitArgs{
		Version:  0,
		RepoID:   repoID,
		Password: password,
		Revision: revision,
		Changes:  changes,
		Log:      log,
		Author:   author,
	}, nil
}

func parseV1(a []interface{}) (*CommitArgs, *Fault) {
	if len(a) != 8 {
		return nil, NewArgumentsFault("v1 commit expects 8 arguments after version, got %d", len(a))
	}
	repoID, ok1 := asString(a[0])
	checksum, ok2 := asString(a[1])
	revision, ok3 := asString(a[2])
	changes, ok4 := asStringSlice(a[3])
	log, ok5 := asString(a[4])
	author, ok6 := asString(a[5])
	branch, ok7 := asOptionalString(a[6])
	module, ok8 := asOptionalString(a[7])
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8) {
		return nil, NewArgumentsFault("v1 commit argument has wrong type")
	}
	return &CommitArgs{
		Version:  1,
		RepoID:   repoID,
		Checksum: checksum,
		Revision: revision,
		Changes:  changes,
		Log:      log,
		Author:   author,
		Branch:   branch,
		Module:   module,
	}, nil
}

func parseV2(a []interface{}) (*CommitArgs, *Fault) {
	if len(a) != 9 {
		return nil, NewArgumentsFault("v2 commit expects 9 arguments after version, got %d", len(a))
	}
	repoID, ok1 := asString(a[0])
	checksum, ok2 := asString(a[1])
	revPrefix, ok3 := asString(a[2])
	revision, ok4 := asString(a[3])
	changes, ok5 := asStringSlice(a[4])
	log, ok6 := asString(a[5])
	author, ok7 := asString(a[6])
	branch, ok8 := asOptionalString(a[7])
	module, ok9 := asOptionalString(a[8])
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8 && ok9) {
		return nil, NewArgumentsFault("v2 commit argument has wrong type")
	}
	return &CommitArgs{
		Version:   2,
		RepoID:    repoID,
		Checksum:  checksum,
		RevPrefix: revPrefix,
		Revision:  revision,
		Changes:   changes,
		Log:       log,
		Author:    author,
		Branch:    branch,
		Module:    module,
	}, nil
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asOptionalString treats JSON null (decoded as nil) as "absent", any
// string as present, and anything else as a type error.
func asOptionalString(v interface{}) (*string, bool) {
	if v == nil {
		return nil, true
	}
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	return &s, true
}

func asStringSlice(v interface{}) ([]string, bool) {
	raw, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, len(raw))
	for i, e := range raw {
		s, ok := e.(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}
