package collective

import "sync"

// LocalGroup is an in-process Group: n ranks backed by goroutine
// rendezvous on a shared world. It exists for tests and single-node
// simulations where each simulated rank runs on its own goroutine.
type LocalGroup struct {
	world *localWorld
	rank  int
}

// localWorld is the shared rendezvous state behind a set of LocalGroups.
type localWorld struct {
	mu      sync.Mutex
	cond    *sync.Cond
	size    int
	vals    []uint64
	arrived int
	round   uint64
	result  []uint64
}

// NewLocalGroup returns one Group handle per rank, all sharing a single
// rendezvous world of the given size.
func NewLocalGroup(size int) []*LocalGroup {
	w := &localWorld{
		size: size,
		vals: make([]uint64, size),
	}
	w.cond = sync.NewCond(&w.mu)
	groups := make([]*LocalGroup, size)
	for i := range groups {
		groups[i] = &LocalGroup{world: w, rank: i}
	}
	return groups
}

// Rank implements Group.
func (g *LocalGroup) Rank() int { return g.rank }

// Size implements Group.
func (g *LocalGroup) Size() int { return g.world.size }

// AllReduceSum implements Group.
func (g *LocalGroup) AllReduceSum(v int64) (int64, error) {
	vals := g.world.exchange(g.rank, uint64(v))
	var sum int64
	for _, got := range vals {
		sum += int64(got)
	}
	return sum, nil
}

// AllGather implements Group.
func (g *LocalGroup) AllGather(v uint64) ([]uint64, error) {
	vals := g.world.exchange(g.rank, v)
	out := make([]uint64, len(vals))
	copy(out, vals)
	return out, nil
}

// Barrier implements Group.
func (g *LocalGroup) Barrier() error {
	g.world.exchange(g.rank, 0)
	return nil
}

// exchange is one rendezvous round: every rank contributes a value and
// blocks until all have arrived, then all observe the full vector.
// A rank cannot enter round R+1 before every rank has left round R, so
// the result vector is stable while any waiter still reads it.
func (w *localWorld) exchange(rank int, v uint64) []uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	round := w.round
	w.vals[rank] = v
	w.arrived++
	if w.arrived == w.size {
		w.result = append([]uint64(nil), w.vals...)
		w.arrived = 0
		w.round++
		w.cond.Broadcast()
	} else {
		for w.round == round {
			w.cond.Wait()
		}
	}
	return w.result
}
