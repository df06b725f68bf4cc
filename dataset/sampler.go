package dataset

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrNotContiguous reports that the record list violates the grouping
// precondition: all records of one untrimmed video must occupy one
// contiguous index range.
var ErrNotContiguous = errors.New("dataset: records for one video are not contiguous")

// BatchSampler yields an ordered schedule of index batches. One pass over
// the schedule enumerates every dataset index exactly once.
type BatchSampler interface {
	// Len returns the number of batches in the schedule.
	Len() int
	// At returns the index batch at schedule position i.
	At(i int) []int
}

type videoGroup struct {
	name     string
	startIdx int
	endIdx   int
}

// SequentialBatchSampler produces batches that advance every active video
// by exactly one record per step. Each batch position is a lane bound to
// one video; a lane walks its video's index range front to back, then is
// rebound to the next unstarted video, or retired when none remain (the
// batch narrows near the end of the schedule).
//
// Consecutive batches therefore give each lane causally ordered, unbroken
// temporal context, which the recurrent label-history head requires.
type SequentialBatchSampler struct {
	schedule [][]int
}

// NewSequentialBatchSampler precomputes the full schedule for the given
// record list and lane count. Construction fails with ErrNotContiguous
// when the record list violates the video-grouping precondition.
func NewSequentialBatchSampler(records []*VideoRecord, batchNum int) (*SequentialBatchSampler, error) {
	if batchNum <= 0 {
		return nil, fmt.Errorf("dataset: batch num must be positive, got %d", batchNum)
	}

	var groups []videoGroup
	seen := make(map[string]bool)
	for idx, rec := range records {
		name := rec.UntrimmedVideoName()
		if len(groups) == 0 || name != groups[len(groups)-1].name {
			if seen[name] {
				return nil, fmt.Errorf("%w: video %q reappears at index %d", ErrNotContiguous, name, idx)
			}
			seen[name] = true
			groups = append(groups, videoGroup{name: name, startIdx: idx, endIdx: idx})
		} else {
			groups[len(groups)-1].endIdx = idx
		}
	}

	type lane struct {
		group  int
		offset int
	}

	startNum := min(len(groups), batchNum)
	lanes := make([]lane, 0, startNum)
	for g := 0; g < startNum; g++ {
		lanes = append(lanes, lane{group: g})
	}
	nextGroup := startNum

	var schedule [][]int
	total := 0
	for len(lanes) != 0 {
		batch := make([]int, len(lanes))
		for i, ln := range lanes {
			batch[i] = groups[ln.group].startIdx + ln.offset
		}
		schedule = append(schedule, batch)
		total += len(batch)

		next := lanes[:0]
		for _, ln := range lanes {
			g := groups[ln.group]
			if g.startIdx+ln.offset == g.endIdx {
				// Lane finished its video; rebind to the next unstarted
				// video or retire.
				if nextGroup != len(groups) {
					next = append(next, lane{group: nextGroup})
					nextGroup++
				}
			} else {
				next = append(next, lane{group: ln.group, offset: ln.offset + 1})
			}
		}
		lanes = next
	}

	if total != len(records) {
		return nil, fmt.Errorf("%w: schedule covers %d indices, dataset has %d", ErrNotContiguous, total, len(records))
	}
	return &SequentialBatchSampler{schedule: schedule}, nil
}

// Len returns the number of batches in the schedule.
func (s *SequentialBatchSampler) Len() int { return len(s.schedule) }

// At returns the batch at schedule position i.
func (s *SequentialBatchSampler) At(i int) []int { return s.schedule[i] }

// Batches returns a copy of the full schedule.
func (s *SequentialBatchSampler) Batches() [][]int {
	out := make([][]int, len(s.schedule))
	for i, b := range s.schedule {
		cp := make([]int, len(b))
		copy(cp, b)
		out[i] = cp
	}
	return out
}

// RandomBatchSampler produces fixed-size shuffled index batches for the
// representation-pretraining phase. Shuffle reorders the schedule
// deterministically from the base seed and the epoch number, so every
// worker sees the same order for a given epoch.
type RandomBatchSampler struct {
	n         int
	batchSize int
	seed      int64
	order     []int
}

// NewRandomBatchSampler builds a sampler over n indices.
func NewRandomBatchSampler(n, batchSize int, seed int64) (*RandomBatchSampler, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch size must be positive, got %d", batchSize)
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return &RandomBatchSampler{n: n, batchSize: batchSize, seed: seed, order: order}, nil
}

// Shuffle reorders the schedule for the given epoch.
func (s *RandomBatchSampler) Shuffle(epoch int) {
	rng := rand.New(rand.NewSource(s.seed + int64(epoch)))
	rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})
}

// Len returns the number of batches (the last one may be short).
func (s *RandomBatchSampler) Len() int {
	return (s.n + s.batchSize - 1) / s.batchSize
}

// At returns the batch at schedule position i.
func (s *RandomBatchSampler) At(i int) []int {
	lo := i * s.batchSize
	hi := min(lo+s.batchSize, s.n)
	return s.order[lo:hi]
}
