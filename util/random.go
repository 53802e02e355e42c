package util

import (
	"math/rand"
	"os"
	"strconv"
	"time"
)

// SetRandom returns a generator for tests that build random payloads.
// BLEHOST_SEED pins the seed so a failing run can be replayed.
func SetRandom() *rand.Rand {
	seed := time.Now().UnixNano()
	if s := os.Getenv("BLEHOST_SEED"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			seed = n
		}
	}
	return rand.New(rand.NewSource(seed))
}
