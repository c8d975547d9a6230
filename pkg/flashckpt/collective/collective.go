// Package collective provides the thin consistency primitives the
// checkpoint engine needs from the training job's communication layer:
// an all-participants-agree reduction, a gather-and-compare of a scalar
// version, and a barrier.
//
// The transport itself is out of scope; Group is the surface a real
// collective backend must provide. Every rank in a group must invoke
// the same collective operations in the same order, or the group
// deadlocks. That alignment obligation belongs to the caller and cannot
// be detected here.
//
// A nil Group means single-process mode: AllAgree returns the local
// vote, AllEqual returns true, Barrier returns immediately. This is the
// safe default for unit tests and single-worker jobs. LocalGroup is an
// in-process implementation backed by goroutine rendezvous, used by
// tests and single-node multi-rank simulations.
package collective

// Group is the collective communication surface over a fixed set of
// ranks. Implementations wrap the training framework's transport.
//
// All methods are blocking collectives: every rank in the group must
// call them the same number of times in the same order. Transport
// failures are fatal to checkpointing and must be returned, not
// swallowed.
type Group interface {
	// Rank returns this participant's index within the group.
	Rank() int

	// Size returns the number of participants.
	Size() int

	// AllReduceSum returns the sum of v across all participants.
	AllReduceSum(v int64) (int64, error)

	// AllGather returns every participant's v, indexed by rank.
	AllGather(v uint64) ([]uint64, error)

	// Barrier blocks until every participant has entered it.
	Barrier() error
}

// AllAgree reports whether every rank voted true. It reduces
// {0 if vote else 1} across the group; the result is true iff the sum
// is zero. A nil group returns the local vote unchanged.
func AllAgree(g Group, vote bool) (bool, error) {
	if g == nil {
		return vote, nil
	}
	var v int64
	if !vote {
		v = 1
	}
	sum, err := g.AllReduceSum(v)
	if err != nil {
		return false, err
	}
	return sum == 0, nil
}

// AllEqual reports whether every rank holds the same value. A nil group
// returns true unconditionally.
func AllEqual(g Group, v uint64) (bool, error) {
	if g == nil {
		return true, nil
	}
	vals, err := g.AllGather(v)
	if err != nil {
		return false, err
	}
	for _, got := range vals {
		if got != vals[0] {
			return false, nil
		}
	}
	return true, nil
}

// Barrier blocks until every rank has entered it. A nil group returns
// immediately.
func Barrier(g Group) error {
	if g == nil {
		return nil
	}
	return g.Barrier()
}
