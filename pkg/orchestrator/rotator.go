package orchestrator

import "sync"

// InitRotator picks the next batch of symbols waiting for their initial backfill.
// Pending symbols are taken in creation order, except that symbols whose last
// attempt failed go behind the ones never tried, so a broken symbol cannot
// hold the head of the queue forever.
type InitRotator struct {
	BatchSize int

	lock   sync.Mutex
	failed map[string]bool
}

func NewInitRotator(batchSize int) *InitRotator {
	return &InitRotator{
		BatchSize: batchSize,
		failed:    make(map[string]bool),
	}
}

func (r *InitRotator) NextBatch(pending []string) []string {
	if len(pending) == 0 || r.BatchSize <= 0 {
		return nil
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	// forget symbols that are no longer pending
	still := make(map[string]bool, len(pending))
	for _, s := range pending {
		still[s] = true
	}
	for s := range r.failed {
		if !still[s] {
			delete(r.failed, s)
		}
	}

	batch := make([]string, 0, min(r.BatchSize, len(pending)))
	for _, s := range pending {
		if len(batch) == r.BatchSize {
			return batch
		}
		if !r.failed[s] {
			batch = append(batch, s)
		}
	}
	for _, s := range pending {
		if len(batch) == r.BatchSize {
			break
		}
		if r.failed[s] {
			batch = append(batch, s)
		}
	}
	return batch
}

// Done records the outcome of one symbol's backfill attempt.
func (r *InitRotator) Done(symbol string, ok bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if ok {
		delete(r.failed, symbol)
	} else {
		r.failed[symbol] = true
	}
}
