package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
// Set PUTTLAB_TEST_QUIET=1 to silence it.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	if os.Getenv("PUTTLAB_TEST_QUIET") != "" {
		logger.SetLevel(logrus.PanicLevel)
	}
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// TempDBPath returns a fresh SQLite path inside the test's temp dir.
func (h *TestHelper) TempDBPath() string {
	return filepath.Join(h.T.TempDir(), "puttlab.db")
}

// WaitFor polls cond until it returns true or timeout expires.
func (h *TestHelper) WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
