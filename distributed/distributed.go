// Package distributed provides the collective operations the training
// loop reduces metrics through. Workers are goroutines in one process
// sharing a World; each rank holds its own model and data shard and meets
// the others only at collective calls.
//
// Collectives are barrier-style: every rank must reach the call or the
// run deadlocks. The loop keeps per-iteration control flow identical
// across ranks (collective calls gated only by the Collective capability,
// which is resolved once at startup) so the barriers always line up.
package distributed

import (
	"fmt"
	"sync"
)

// World coordinates a fixed set of ranks.
type World struct {
	size int

	mu      sync.Mutex
	cond    *sync.Cond
	arrived int
	gen     uint64
	inputs  [][]float64
	outputs [][]float64
}

// NewWorld creates a world of the given size.
func NewWorld(size int) (*World, error) {
	if size <= 0 {
		return nil, fmt.Errorf("distributed: world size must be positive, got %d", size)
	}
	w := &World{
		size:    size,
		inputs:  make([][]float64, size),
		outputs: make([][]float64, size),
	}
	w.cond = sync.NewCond(&w.mu)
	return w, nil
}

// Size returns the number of ranks.
func (w *World) Size() int { return w.size }

// Group returns the handle for one rank.
func (w *World) Group(rank int) (*Group, error) {
	if rank < 0 || rank >= w.size {
		return nil, fmt.Errorf("distributed: rank %d out of range [0, %d)", rank, w.size)
	}
	return &Group{world: w, rank: rank}, nil
}

// Group is one rank's view of the world.
type Group struct {
	world *World
	rank  int
}

// Rank returns this rank's index.
func (g *Group) Rank() int { return g.rank }

// Size returns the world size.
func (g *Group) Size() int { return g.world.size }

// IsMaster reports whether this is rank 0. Logging, checkpoint writes and
// table rendering happen only on the master.
func (g *Group) IsMaster() bool { return g.rank == 0 }

// Collective reports whether cross-rank reduction applies. Resolved once
// from the world size; the loop threads this flag instead of re-checking
// worker counts per iteration.
func (g *Group) Collective() bool { return g.world.size > 1 }

// rendezvous blocks until every rank has contributed vals, then returns
// all contributions in rank order. combine runs exactly once, on the last
// rank to arrive, and fills the output slots.
func (g *Group) rendezvous(vals []float64, combine func(inputs, outputs [][]float64)) [][]float64 {
	w := g.world
	w.mu.Lock()
	defer w.mu.Unlock()

	myGen := w.gen
	w.inputs[g.rank] = vals
	w.arrived++
	if w.arrived == w.size {
		combine(w.inputs, w.outputs)
		w.arrived = 0
		w.inputs = make([][]float64, w.size)
		w.gen++
		w.cond.Broadcast()
	} else {
		for w.gen == myGen {
			w.cond.Wait()
		}
	}

	out := make([][]float64, w.size)
	for i, o := range w.outputs {
		out[i] = o
	}
	return out
}

// AllReduce averages vals element-wise across all ranks. Every rank
// receives the same result. All ranks must pass slices of equal length.
func (g *Group) AllReduce(vals []float64) []float64 {
	if !g.Collective() {
		out := make([]float64, len(vals))
		copy(out, vals)
		return out
	}

	outs := g.rendezvous(vals, func(inputs, outputs [][]float64) {
		sum := make([]float64, len(inputs[0]))
		for _, in := range inputs {
			for i, v := range in {
				sum[i] += v
			}
		}
		for i := range sum {
			sum[i] /= float64(len(inputs))
		}
		for r := range outputs {
			outputs[r] = sum
		}
	})

	res := outs[g.rank]
	out := make([]float64, len(res))
	copy(out, res)
	return out
}

// AllGatherUnaligned collects every rank's slice, which may differ in
// length, and returns them in rank order on every rank.
func (g *Group) AllGatherUnaligned(vals []float64) [][]float64 {
	if !g.Collective() {
		out := make([]float64, len(vals))
		copy(out, vals)
		return [][]float64{out}
	}

	return g.rendezvous(vals, func(inputs, outputs [][]float64) {
		for r, in := range inputs {
			buf := make([]float64, len(in))
			copy(buf, in)
			outputs[r] = buf
		}
	})
}
