// Package guard flips the service into test mode as a side effect of being
// imported, so tests never start real runtime components.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("ELPIJI_TEST_MODE") == "" {
			_ = os.Setenv("ELPIJI_TEST_MODE", "1")
		}
	})
}
