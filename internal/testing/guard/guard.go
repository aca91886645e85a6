// Package guard flips the portal into test mode when imported, so binaries
// exercised from tests skip connecting to PostgreSQL and Redis.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("PORTAL_TEST_MODE") == "" {
			_ = os.Setenv("PORTAL_TEST_MODE", "1")
		}
	})
}
