// Package trace implements the cross-process trace transport of spec
// section 4.3: a single, shared, memory-mapped region keyed by
// testcase id, written by the instrumented target and drained by the
// fuzzer. golang.org/x/sys/unix provides the mmap/munmap primitives --
// the teacher never needed raw syscalls, but pulls golang.org/x/sys in
// transitively; this is the first component that earns direct use of
// it.
package trace

import "encoding/binary"

// Kind is a TraceRecord's event kind (spec section 3).
type Kind byte

const (
	KindTrueBranch Kind = iota
	KindFalseBranch
	KindEnterFunction
	KindExitFunction
	KindExceptionBranch
	KindKill
	KindTerminated
	KindCrashed
	KindTimedOut
)

// Terminal reports whether k ends a trace (spec 4.3: "a trace is
// considered complete when its last record has kind in {terminated,
// crashed, timed_out}").
func (k Kind) Terminal() bool {
	return k == KindTerminated || k == KindCrashed || k == KindTimedOut
}

// wireSize is the on-disk record size from spec section 6: kind(1) +
// thread(8) + func(4) + pred_block(4) + cur_block(4) + padding(1).
const wireSize = 22

// Record is one TraceRecord (spec section 3).
type Record struct {
	Kind                 Kind
	ThreadID             uint64
	FunctionID           uint32
	PredecessorBlockNum  uint32
	CurrentBlockNum      uint32
}

// Encode writes r in the 22-byte wire format.
func (r Record) Encode() [wireSize]byte {
	var buf [wireSize]byte
	buf[0] = byte(r.Kind)
	binary.LittleEndian.PutUint64(buf[1:9], r.ThreadID)
	binary.LittleEndian.PutUint32(buf[9:13], r.FunctionID)
	binary.LittleEndian.PutUint32(buf[13:17], r.PredecessorBlockNum)
	binary.LittleEndian.PutUint32(buf[17:21], r.CurrentBlockNum)
	// buf[21] is padding.
	return buf
}

// Decode parses a 22-byte wire record.
func Decode(buf [wireSize]byte) Record {
	return Record{
		Kind:                Kind(buf[0]),
		ThreadID:            binary.LittleEndian.Uint64(buf[1:9]),
		FunctionID:          binary.LittleEndian.Uint32(buf[9:13]),
		PredecessorBlockNum: binary.LittleEndian.Uint32(buf[13:17]),
		CurrentBlockNum:     binary.LittleEndian.Uint32(buf[17:21]),
	}
}
