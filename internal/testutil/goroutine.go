package testutil

import (
	"runtime"
	"testing"
	"time"
)

// AssertNoGoroutineLeaks checks that the goroutine count settles back to
// baseline within a deadline. Session teardown is asynchronous, so the count
// is polled rather than sampled once.
func AssertNoGoroutineLeaks(t *testing.T, baseline int, margin int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= baseline+margin {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Errorf("goroutines did not settle after session teardown: baseline=%d, current=%d, margin=%d",
		baseline, runtime.NumGoroutine(), margin)
}
