package crashpipeline

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint is the 128-bit crash-kind identity of spec 4.11 step 3:
// hash128("reason:" + hex(frame_offset_1) + "," + ...). Two crashes
// with the same fingerprint are the same crash kind.
type Fingerprint [16]byte

func (f Fingerprint) String() string {
	return fmt.Sprintf("%x", [16]byte(f))
}

// fingerprintOf builds the fingerprint's preimage from the decoded
// crash's reason and per-frame offset list (frame modules are not part
// of it), then hashes it with blake2b the way internal/population
// hashes individual content.
func fingerprintOf(d Decoded) Fingerprint {
	var b strings.Builder
	b.WriteString("reason:")
	b.WriteString(d.Reason)
	for _, fr := range d.Frames {
		b.WriteByte(',')
		fmt.Fprintf(&b, "%x", fr.Offset)
	}

	digest, err := blake2b.New(16, nil)
	if err != nil {
		panic(err) // only fails for an invalid hash size, never 16
	}
	digest.Write([]byte(b.String()))

	var out Fingerprint
	copy(out[:], digest.Sum(nil))
	return out
}
