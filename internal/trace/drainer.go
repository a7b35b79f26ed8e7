package trace

import (
	"sync"
	"time"
)

// Drainer is the fuzzer-side reader half of the transport. It polls
// the region, buckets records by testcase id, and removes a trace once
// the scoreboard has integrated it (spec 4.3: "Removal").
type Drainer struct {
	region *Region
	cursor uint64

	mu      sync.Mutex
	pending map[uint64][]Record
	done    map[uint64]bool
}

// NewDrainer returns a Drainer attached to region.
func NewDrainer(region *Region) *Drainer {
	return &Drainer{
		region:  region,
		pending: make(map[uint64][]Record),
		done:    make(map[uint64]bool),
	}
}

// Poll reads any newly appended entries into the in-process buckets.
// The driver calls it through WaitComplete after dispatch.
func (d *Drainer) Poll() error {
	entries, next, err := d.region.ReadFrom(d.cursor)
	if err != nil {
		return err
	}
	d.cursor = next

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range entries {
		d.pending[e.TestcaseID] = append(d.pending[e.TestcaseID], e.Record)
		if e.Record.Kind.Terminal() {
			d.done[e.TestcaseID] = true
		}
	}
	return nil
}

// Complete reports whether tcID's trace has a terminal record yet.
func (d *Drainer) Complete(tcID uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done[tcID]
}

// Records returns the records collected so far for tcID, in append
// order.
func (d *Drainer) Records(tcID uint64) []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Record(nil), d.pending[tcID]...)
}

// Remove drops tcID's bucket after the scoreboard has integrated it,
// bounding drainer memory (spec 4.3).
func (d *Drainer) Remove(tcID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, tcID)
	delete(d.done, tcID)
}

// WaitComplete blocks (with the given poll cadence) until tcID's trace
// is complete or the deadline passes, returning false on timeout. The
// driver instead treats an absent terminal record within the process
// timeout window as `timed_out` (spec 4.3's failure semantics) rather
// than blocking forever.
func (d *Drainer) WaitComplete(tcID uint64, pollEvery, deadline time.Duration) bool {
	timeout := time.After(deadline)
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	for {
		if err := d.Poll(); err == nil && d.Complete(tcID) {
			return true
		}
		select {
		case <-timeout:
			return false
		case <-ticker.C:
		}
	}
}
