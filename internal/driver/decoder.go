package driver

import (
	"fmt"

	"sentra-fuzz/internal/crashpipeline"
)

// unavailableDecoder stands in for the minidump decoder when none is
// configured. The decoder is an out-of-scope external collaborator
// (spec section 1); every dump it's asked to decode is logged and
// skipped by internal/crashpipeline's transient-I/O error handling,
// same as any other unreadable dump.
type unavailableDecoder struct{}

func (unavailableDecoder) Decode(_ []byte) (crashpipeline.Decoded, error) {
	return crashpipeline.Decoded{}, fmt.Errorf("no minidump decoder configured")
}
