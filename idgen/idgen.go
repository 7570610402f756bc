// Package idgen generates the identifiers of crawl runs, request traces and
// per-launch browser profile directories.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// Short returns a Generator of lowercase base-36 IDs of length n, safe in
// file names and HTTP headers.
func Short(n int) Generator {
	return func() string {
		buf := make([]byte, n)
		rand.Read(buf)
		for i, b := range buf {
			buf[i] = base36[int(b)%len(base36)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator of time-ordered RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID from gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// RunPrefix starts every run ID.
const RunPrefix = "run_"

// RunID generates run IDs: RunPrefix followed by a UUID v7, so run IDs sort
// by start time.
var RunID = Prefixed(RunPrefix, UUIDv7())

// RunStarted recovers the creation time embedded in a run ID.
func RunStarted(id string) (time.Time, bool) {
	if len(id) <= len(RunPrefix) || id[:len(RunPrefix)] != RunPrefix {
		return time.Time{}, false
	}
	u, err := uuid.Parse(id[len(RunPrefix):])
	if err != nil || u.Version() != 7 {
		return time.Time{}, false
	}
	// The first 48 bits of a v7 UUID are Unix milliseconds.
	return time.UnixMilli(int64(binary.BigEndian.Uint64(u[:8]) >> 16)), true
}
