package dataset

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Batch is one assembled loader output. Features holds one row per sample.
type Batch struct {
	Indexes    []int
	Features   *mat.Dense
	History    [][]int
	Verbs      []int
	Nouns      []int
	Narrations []string
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int { return len(b.Indexes) }

// Loader assembles batches from a sampler's schedule. Assembly runs on a
// pool of prefetch workers; batches are handed to the consumer in schedule
// order regardless of which worker finished first.
type Loader struct {
	ds      *EpicKitchens
	sampler BatchSampler
	workers int
}

// NewLoader builds a loader over ds using the given sampler. workers is
// clamped to at least one.
func NewLoader(ds *EpicKitchens, sampler BatchSampler, workers int) *Loader {
	if workers <= 0 {
		workers = 1
	}
	return &Loader{ds: ds, sampler: sampler, workers: workers}
}

// Len returns the number of batches in one pass.
func (l *Loader) Len() int { return l.sampler.Len() }

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() *EpicKitchens { return l.ds }

// Shuffle reorders the schedule for the given epoch. Samplers with a fixed
// schedule cannot be reshuffled; asking for it is a caller bug.
func (l *Loader) Shuffle(epoch int) error {
	rs, ok := l.sampler.(*RandomBatchSampler)
	if !ok {
		return fmt.Errorf("dataset: %T has a fixed schedule and cannot be shuffled", l.sampler)
	}
	rs.Shuffle(epoch)
	return nil
}

// BatchIter streams batches in schedule order. The consumer reads C until
// it closes, then checks Err. Stop releases the workers early when the
// consumer breaks out of the pass (the truncated shuffle-phase epochs do).
type BatchIter struct {
	C <-chan *Batch

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu  sync.Mutex
	err error
}

// Stop abandons the pass and releases the prefetch workers. Safe to call
// more than once.
func (it *BatchIter) Stop() {
	it.stopOnce.Do(func() { close(it.stop) })
	<-it.done
}

// Err returns the first assembly error, if any. Valid after C closes or
// Stop returns.
func (it *BatchIter) Err() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.err
}

func (it *BatchIter) setErr(err error) {
	it.mu.Lock()
	if it.err == nil {
		it.err = err
	}
	it.mu.Unlock()
}

// Iter starts one pass over the sampler's schedule.
func (l *Loader) Iter() *BatchIter {
	out := make(chan *Batch, l.workers)
	it := &BatchIter{
		C:    out,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	type result struct {
		pos   int
		batch *Batch
		err   error
	}

	jobs := make(chan int)
	results := make(chan result, l.workers)

	var wg sync.WaitGroup
	for w := 0; w < l.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pos := range jobs {
				b, err := l.assemble(l.sampler.At(pos))
				select {
				case results <- result{pos: pos, batch: b, err: err}:
				case <-it.stop:
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for pos := 0; pos < l.sampler.Len(); pos++ {
			select {
			case jobs <- pos:
			case <-it.stop:
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collector: reorder worker results into schedule order.
	go func() {
		defer close(it.done)
		defer close(out)

		pending := make(map[int]*Batch)
		next := 0
		for res := range results {
			if res.err != nil {
				it.setErr(res.err)
				it.stopOnce.Do(func() { close(it.stop) })
				// Drain remaining results so workers can exit.
				for range results {
				}
				return
			}
			pending[res.pos] = res.batch
			for {
				b, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				select {
				case out <- b:
					next++
				case <-it.stop:
					for range results {
					}
					return
				}
			}
		}
	}()

	return it
}

// assemble builds one batch from dataset indices.
func (l *Loader) assemble(indexes []int) (*Batch, error) {
	if len(indexes) == 0 {
		return nil, fmt.Errorf("dataset: empty batch")
	}
	b := &Batch{
		Indexes:    make([]int, len(indexes)),
		Features:   mat.NewDense(len(indexes), l.ds.FeatureDim(), nil),
		History:    make([][]int, len(indexes)),
		Verbs:      make([]int, len(indexes)),
		Nouns:      make([]int, len(indexes)),
		Narrations: make([]string, len(indexes)),
	}
	copy(b.Indexes, indexes)
	for i, idx := range indexes {
		s, err := l.ds.Sample(idx)
		if err != nil {
			return nil, err
		}
		b.Features.SetRow(i, s.Features)
		b.History[i] = s.History
		b.Verbs[i] = s.Verb
		b.Nouns[i] = s.Noun
		b.Narrations[i] = s.NarrationID
	}
	return b, nil
}
