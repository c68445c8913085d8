package wire

import "fmt"

// FaultCode enumerates the RPC fault codes the server may return (spec.md §4.2).
type FaultCode string

const (
	FaultArguments FaultCode = "Client.Arguments"
	FaultSlowdown  FaultCode = "Client.Slowdown"
)

// Fault is an RPC fault envelope: either Client.Arguments or Client.Slowdown,
// with a human-readable faultstring.
type Fault struct {
	Code        FaultCode
	FaultString string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.FaultString)
}

// NewArgumentsFault builds a Client.Arguments fault with the given reason.
func NewArgumentsFault(format string, a ...interface{}) *Fault {
	return &Fault{Code: FaultArguments, FaultString: fmt.Sprintf(format, a...)}
}

// NewSlowdownFault builds a Client.Slowdown fault with the given reason.
func NewSlowdownFault(format string, a ...interface{}) *Fault {
	return &Fault{Code: FaultSlowdown, FaultString: fmt.Sprintf(format, a...)}
}
