package idgen

import (
	"strings"
	"testing"
	"time"
)

func TestShort_LengthAndAlphabet(t *testing.T) {
	for _, n := range []int{6, 8, 16} {
		id := Short(n)()
		if len(id) != n {
			t.Fatalf("Short(%d): got length %d", n, len(id))
		}
		if strings.Trim(id, base36) != "" {
			t.Fatalf("Short: unexpected character in %q", id)
		}
	}
}

func TestShort_Uniqueness(t *testing.T) {
	// WHY: Concurrent launches must never share a profile directory.
	gen := Short(12)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := gen()
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	if len(id) != 36 || len(strings.Split(id, "-")) != 5 || id[14] != '7' {
		t.Fatalf("UUIDv7: malformed %q", id)
	}
}

func TestRunID_RoundTrip(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := RunID()
	if !strings.HasPrefix(id, RunPrefix) {
		t.Fatalf("RunID = %q", id)
	}
	started, ok := RunStarted(id)
	if !ok || started.Before(before) || started.After(time.Now().Add(time.Second)) {
		t.Fatalf("RunStarted(%q) = %v, %v", id, started, ok)
	}
}

func TestRunStarted_Rejects(t *testing.T) {
	for _, id := range []string{"", "run_", "job_0190", "run_not-a-uuid", Prefixed(RunPrefix, Short(8))()} {
		if _, ok := RunStarted(id); ok {
			t.Errorf("RunStarted(%q) accepted", id)
		}
	}
}
