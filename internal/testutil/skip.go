package testutil

import (
	"os"
	"os/exec"
	"testing"
)

// SkipIfNoNetwork skips the test if INFCO_TEST_SKIP_NETWORK is set.
// Use this for tests that need loopback TCP listeners, which may not be
// available in sandboxed environments.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("INFCO_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: INFCO_TEST_SKIP_NETWORK is set")
	}
}

// RequireBinary skips the test if name is not on PATH.
func RequireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not installed", name)
	}
}
