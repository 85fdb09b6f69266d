package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = format
	})
	Logf("hello %d", 1)
	if got != "hello %d" {
		t.Errorf("Logf format = %q, want %q", got, "hello %d")
	}

	// nil resets to a no-op without panicking
	SetLogger(nil)
	Logf("should not panic")
}

func TestDebugfMutedByDefault(t *testing.T) {
	// Debugf must be callable while muted.
	Debugf("muted %s", "message")

	var calls int
	SetDebugLogger(func(format string, v ...interface{}) { calls++ })
	Debugf("one")
	SetDebugLogger(nil)
	Debugf("two")

	if calls != 1 {
		t.Errorf("debug calls = %d, want 1", calls)
	}
}
