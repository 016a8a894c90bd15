package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("WORKMESH_TEST_MODE") == "" {
			_ = os.Setenv("WORKMESH_TEST_MODE", "1")
		}
	})
}
