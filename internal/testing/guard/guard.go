// Package guard forces test mode on import so tests never start runtime
// side effects like servers or workers.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("VENDAFLOW_TEST_MODE") == "" {
			_ = os.Setenv("VENDAFLOW_TEST_MODE", "1")
		}
	})
}
