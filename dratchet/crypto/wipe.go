package crypto

import (
	"crypto/subtle"
	"runtime"
)

// Wipe overwrites b with zeros. It is best effort: the Go runtime may have
// copied the buffer before.
//
//go:noinline
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
	runtime.KeepAlive(&b)
}
