package mesh_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain runs every test in the mesh_test package and checks for
// goroutine leaks once they've all completed.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
