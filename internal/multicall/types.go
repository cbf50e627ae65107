package multicall

import (
	"context"
	"encoding/json"

	"defidata/internal/jsonrpc"
)

// CallDescriptor describes one read operation against a destination.
// It is treated as an immutable value; Meta is round-tripped verbatim onto
// the matching CallResult.
type CallDescriptor struct {
	// Network names the destination the call is batched against
	Network string

	// Method is the operation selector understood by the destination
	Method string

	// Params is the ordered parameter list for the operation
	Params []interface{}

	// Meta is opaque caller-attached metadata
	Meta interface{}

	// BatchAddress optionally overrides the address the call is batched
	// against; descriptors with different batch addresses are never
	// combined into one round-trip
	BatchAddress string
}

// CallResult pairs a descriptor's metadata with its decoded return value,
// or an error if that individual read failed.
type CallResult struct {
	Meta  interface{}
	Value json.RawMessage
	Err   error
}

// BatchCaller submits one round-trip carrying multiple calls to a single
// destination and returns the raw responses, or fails the whole batch.
type BatchCaller interface {
	BatchCall(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error)
}

// Destination is the capability record for one network, resolved once at
// configuration-load time and consumed as plain data.
type Destination struct {
	// Name is the network name descriptors refer to
	Name string

	// MaxBatchCalls caps the number of calls per round-trip; oversized
	// groups are split into sequential round-trips. 0 means no cap.
	MaxBatchCalls int

	// Methods enumerates the operations the destination supports.
	// An empty set means any operation is accepted.
	Methods map[string]bool

	// Caller performs the round-trips
	Caller BatchCaller
}

// Supports reports whether the destination accepts an operation
func (d *Destination) Supports(method string) bool {
	if len(d.Methods) == 0 {
		return true
	}
	return d.Methods[method]
}
