package crashpipeline

import (
	"bytes"
	"fmt"
)

// Frame is one entry of the crashing thread's call stack, as the
// external minidump decoder reports it.
type Frame struct {
	Module string
	Offset uint64
}

// Decoded is the external decoder's contract (spec 4.11 step 2): the
// minidump decoder itself is an out-of-scope collaborator, specified
// only by this interface.
type Decoded struct {
	Reason  string
	Address uint64
	Frames  []Frame
}

// Decoder turns raw minidump bytes into the fields the pipeline needs
// to fingerprint a crash. The real decoder is an external collaborator
// (spec section 1's "out of scope" list); Decode's contract is the
// only thing this package depends on.
type Decoder interface {
	Decode(dump []byte) (Decoded, error)
}

// testcaseIDPrefix is the env-signature a dump's bytes are scanned for
// (spec 4.11 step 1: "scanning the dump for the testcase_id= env
// signature").
const testcaseIDPrefix = "testcase_id="

// extractTestcaseID scans raw dump bytes for the testcase_id= env
// signature the orchestrator stamped into the crashed process's
// environment, which minidump tooling typically embeds verbatim in
// the dump's environment-block bytes.
func extractTestcaseID(dump []byte) (uint64, error) {
	idx := bytes.Index(dump, []byte(testcaseIDPrefix))
	if idx < 0 {
		return 0, fmt.Errorf("crashpipeline: no %s signature in dump", testcaseIDPrefix)
	}
	start := idx + len(testcaseIDPrefix)
	end := start
	for end < len(dump) && dump[end] >= '0' && dump[end] <= '9' {
		end++
	}
	if end == start {
		return 0, fmt.Errorf("crashpipeline: malformed %s signature in dump", testcaseIDPrefix)
	}
	var id uint64
	for _, c := range dump[start:end] {
		id = id*10 + uint64(c-'0')
	}
	return id, nil
}
