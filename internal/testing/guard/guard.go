// Package guard switches binaries into test mode when imported by their tests, so a
// stray call to main never binds ports or dials PostgreSQL and Redis.
package guard

import (
	"os"
	"sync"

	"github.com/Dev-aquilas225/stock-sub001/internal/app"
)

var once sync.Once

func init() {
	Enable()
}

// Enable sets the test mode flag unless the environment already decided.
func Enable() {
	once.Do(func() {
		if os.Getenv(app.TestModeEnv) == "" {
			_ = os.Setenv(app.TestModeEnv, "1")
		}
		app.RefreshTestMode()
	})
}
