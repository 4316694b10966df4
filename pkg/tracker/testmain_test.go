package tracker

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that no dispatcher worker goroutine outlives Close()
// across the whole package's test run.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
