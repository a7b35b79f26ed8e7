package population

import (
	"sort"
	"sync"

	"golang.org/x/crypto/blake2b"

	"sentra-fuzz/internal/fitness"
)

// bestSetCapacity is the max size of spec 4.8's best_set.
const bestSetCapacity = 500

// contentHash is the 128-bit dedup key for best_set membership (spec
// section 3: "no two members share the same input hash").
type contentHash [16]byte

func hashContent(buf []byte) contentHash {
	h, _ := blake2b.New(16, nil)
	h.Write(buf)
	var out contentHash
	copy(out[:], h.Sum(nil))
	return out
}

type member struct {
	measure fitness.Measure
	ind     Individual
	hash    contentHash
}

// BestSet is spec 4.8's bounded, Measure-ordered, content-deduplicated
// retention set.
type BestSet struct {
	mu      sync.RWMutex
	members []member
	byHash  map[contentHash]int // hash -> index into members

	snapMu   sync.RWMutex
	snapshot []member
}

// NewBestSet returns an empty best-set.
func NewBestSet() *BestSet {
	return &BestSet{byHash: make(map[contentHash]int)}
}

// Insert adds (measure, ind) keyed by content's hash. It returns false
// (no insertion) if an equal-content member already exists, or if the
// set is full and measure does not beat the current minimum. It
// returns true from the second value iff this insertion is a new
// overall maximum Measure (spec 4.9 step 4: used to reset stagnation).
func (bs *BestSet) Insert(measure fitness.Measure, ind Individual, content []byte) (inserted, isNewMax bool) {
	hash := hashContent(content)

	bs.mu.Lock()
	defer bs.mu.Unlock()

	if _, ok := bs.byHash[hash]; ok {
		return false, false
	}

	prevMax, hadAny := bs.maxLocked()

	if len(bs.members) < bestSetCapacity {
		bs.members = append(bs.members, member{measure: measure, ind: ind, hash: hash})
		bs.byHash[hash] = len(bs.members) - 1
	} else {
		worstIdx := bs.worstIndexLocked()
		if !fitness.Less(bs.members[worstIdx].measure, measure) {
			return false, false
		}
		delete(bs.byHash, bs.members[worstIdx].hash)
		bs.members[worstIdx] = member{measure: measure, ind: ind, hash: hash}
		bs.byHash[hash] = worstIdx
	}

	newMax, _ := bs.maxLocked()
	return true, !hadAny || fitness.Less(prevMax, newMax)
}

func (bs *BestSet) worstIndexLocked() int {
	worst := 0
	for i := 1; i < len(bs.members); i++ {
		if fitness.Less(bs.members[i].measure, bs.members[worst].measure) {
			worst = i
		}
	}
	return worst
}

func (bs *BestSet) maxLocked() (fitness.Measure, bool) {
	if len(bs.members) == 0 {
		return fitness.Measure{}, false
	}
	best := bs.members[0].measure
	for _, m := range bs.members[1:] {
		best = fitness.Max(best, m.measure)
	}
	return best, true
}

// Len reports the current member count.
func (bs *BestSet) Len() int {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return len(bs.members)
}

// GetBest returns up to k individuals ranked best-to-worst by Measure.
func (bs *BestSet) GetBest(k int) []Individual {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	idxs := make([]int, len(bs.members))
	for i := range idxs {
		idxs[i] = i
	}
	sort.Slice(idxs, func(i, j int) bool {
		return fitness.Compare(bs.members[idxs[i]].measure, bs.members[idxs[j]].measure) > 0
	})
	if k > len(idxs) {
		k = len(idxs)
	}
	out := make([]Individual, k)
	for i := 0; i < k; i++ {
		out[i] = bs.members[idxs[i]].ind
	}
	return out
}

// Entry pairs a best-set member's Measure with its Individual, for
// callers (checkpointing, the UI status seam) that need both.
type Entry struct {
	Measure fitness.Measure
	Ind     Individual
}

// GetBestEntries is GetBest's counterpart that also returns each
// individual's Measure, ranked best-to-worst.
func (bs *BestSet) GetBestEntries(k int) []Entry {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	idxs := make([]int, len(bs.members))
	for i := range idxs {
		idxs[i] = i
	}
	sort.Slice(idxs, func(i, j int) bool {
		return fitness.Compare(bs.members[idxs[i]].measure, bs.members[idxs[j]].measure) > 0
	})
	if k > len(idxs) {
		k = len(idxs)
	}
	out := make([]Entry, k)
	for i := 0; i < k; i++ {
		out[i] = Entry{Measure: bs.members[idxs[i]].measure, Ind: bs.members[idxs[i]].ind}
	}
	return out
}

// Snapshot copies the current best-set into the read-only snapshot
// observers poll, under its own mutex distinct from Insert's (spec
// 4.8: "a separate shareable copy for observers ... under a distinct
// mutex"). Intended to be called once per generation.
func (bs *BestSet) Snapshot() {
	bs.mu.RLock()
	cp := make([]member, len(bs.members))
	copy(cp, bs.members)
	bs.mu.RUnlock()

	bs.snapMu.Lock()
	bs.snapshot = cp
	bs.snapMu.Unlock()
}

// SnapshotBest returns up to k individuals from the last Snapshot, not
// the live set -- safe to call concurrently with ongoing Insert calls.
func (bs *BestSet) SnapshotBest(k int) []Individual {
	bs.snapMu.RLock()
	defer bs.snapMu.RUnlock()
	idxs := make([]int, len(bs.snapshot))
	for i := range idxs {
		idxs[i] = i
	}
	sort.Slice(idxs, func(i, j int) bool {
		return fitness.Compare(bs.snapshot[idxs[i]].measure, bs.snapshot[idxs[j]].measure) > 0
	})
	if k > len(idxs) {
		k = len(idxs)
	}
	out := make([]Individual, k)
	for i := 0; i < k; i++ {
		out[i] = bs.snapshot[idxs[i]].ind
	}
	return out
}
