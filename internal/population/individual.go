// Package population implements the population and best-set of spec
// section 4.8: the current generation's individuals, the immutable
// seed corpus, and a bounded, content-deduplicated best-of-all-time
// set ordered by Measure.
package population

import (
	"sentra-fuzz/internal/arena"
	"sentra-fuzz/internal/fitness"
)

// Individual is one member of the population: an exclusive or shared
// reference to one arena slot, plus the testcase id it was last
// dispatched under (spec section 3). TestcaseID is zero until the
// driver assigns one.
type Individual struct {
	Slot       arena.Index
	TestcaseID uint64
}
