package multicall

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"defidata/internal/batch"
	"defidata/internal/jsonrpc"
)

// Aggregator groups call descriptors by destination and submits each group
// as the fewest possible round-trips, demultiplexing results back onto the
// original descriptors in input order.
type Aggregator struct {
	destinations map[string]*Destination
	groupLimit   int
	logger       zerolog.Logger
}

// NewAggregator creates an aggregator over a set of destinations.
// groupLimit caps how many destination groups are dispatched concurrently.
func NewAggregator(destinations []*Destination, groupLimit int, logger zerolog.Logger) *Aggregator {
	byName := make(map[string]*Destination, len(destinations))
	for _, d := range destinations {
		byName[d.Name] = d
	}
	if groupLimit < 1 {
		groupLimit = len(destinations)
	}
	return &Aggregator{
		destinations: byName,
		groupLimit:   groupLimit,
		logger:       logger.With().Str("component", "multicall").Logger(),
	}
}

// group is the set of descriptor indices sharing one grouping key
type group struct {
	dest    *Destination
	indices []int
}

// MultiCall executes descriptors with one round-trip per destination group
// (split when a group exceeds the destination's batch cap) and returns one
// result per descriptor, in input order. A failed round-trip fails every
// descriptor in it; other groups are unaffected.
func (a *Aggregator) MultiCall(ctx context.Context, descriptors []CallDescriptor) []CallResult {
	results := make([]CallResult, len(descriptors))
	for i, d := range descriptors {
		results[i].Meta = d.Meta
	}

	// Group by (network, batch address), preserving first-appearance order
	groups := make(map[string]*group)
	var order []string
	for i, d := range descriptors {
		dest, ok := a.destinations[d.Network]
		if !ok {
			results[i].Err = fmt.Errorf("unknown destination network %q", d.Network)
			continue
		}
		if !dest.Supports(d.Method) {
			results[i].Err = fmt.Errorf("destination %q does not support operation %q", d.Network, d.Method)
			continue
		}

		key := d.Network + "|" + d.BatchAddress
		g, ok := groups[key]
		if !ok {
			g = &group{dest: dest}
			groups[key] = g
			order = append(order, key)
		}
		g.indices = append(g.indices, i)
	}

	if len(order) == 0 {
		return results
	}

	// Different destinations are independent; dispatch them concurrently
	tasks := make([]batch.Task[struct{}], 0, len(order))
	for _, key := range order {
		g := groups[key]
		tasks = append(tasks, func(ctx context.Context) (struct{}, error) {
			a.runGroup(ctx, g, descriptors, results)
			return struct{}{}, nil
		})
	}
	batch.Run(ctx, tasks, a.groupLimit)

	return results
}

// runGroup performs the round-trips for one group, writing into the
// indices this group owns. Oversized groups are split into sequential
// round-trips; a failed round-trip fails only its own chunk.
func (a *Aggregator) runGroup(ctx context.Context, g *group, descriptors []CallDescriptor, results []CallResult) {
	chunkSize := g.dest.MaxBatchCalls
	if chunkSize <= 0 {
		chunkSize = len(g.indices)
	}

	for start := 0; start < len(g.indices); start += chunkSize {
		end := start + chunkSize
		if end > len(g.indices) {
			end = len(g.indices)
		}
		a.runChunk(ctx, g.dest, g.indices[start:end], descriptors, results)
	}
}

func (a *Aggregator) runChunk(ctx context.Context, dest *Destination, indices []int, descriptors []CallDescriptor, results []CallResult) {
	reqs := make([]*jsonrpc.Request, len(indices))
	for n, i := range indices {
		req, err := jsonrpc.NewRequest(descriptors[i].Method, descriptors[i].Params, jsonrpc.NewIDInt(int64(n)))
		if err != nil {
			// Unencodable params fail only this call
			results[i].Err = fmt.Errorf("encode call: %w", err)
			continue
		}
		reqs[n] = req
	}

	// Compact out calls that failed to encode
	sendReqs := reqs[:0:len(reqs)]
	sendIdx := make([]int, 0, len(indices))
	for n, req := range reqs {
		if req != nil {
			sendReqs = append(sendReqs, req)
			sendIdx = append(sendIdx, indices[n])
		}
	}
	if len(sendReqs) == 0 {
		return
	}

	resps, err := dest.Caller.BatchCall(ctx, sendReqs)
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("destination", dest.Name).
			Int("calls", len(sendReqs)).
			Msg("round-trip failed")
		for _, i := range sendIdx {
			results[i].Err = fmt.Errorf("destination %q unavailable: %w", dest.Name, err)
		}
		return
	}

	// Responses may arrive in any order; match them back by request ID
	byID := make(map[int64]*jsonrpc.Response, len(resps))
	for _, resp := range resps {
		if resp == nil {
			continue
		}
		if id, ok := resp.ID.Int(); ok {
			byID[id] = resp
		}
	}

	for n, i := range sendIdx {
		id, _ := sendReqs[n].ID.Int()
		resp, ok := byID[id]
		switch {
		case !ok:
			results[i].Err = fmt.Errorf("destination %q returned no result for call %d", dest.Name, id)
		case resp.HasError():
			results[i].Err = resp.Error
		default:
			results[i].Value = resp.Result
		}
	}

	a.logger.Debug().
		Str("destination", dest.Name).
		Int("calls", len(sendReqs)).
		Msg("round-trip completed")
}
