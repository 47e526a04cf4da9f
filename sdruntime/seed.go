package sdruntime

import (
	"crypto/rand"
	"encoding/binary"
)

// RandomSeedSentinel asks for a seed to be picked at random.
const RandomSeedSentinel = -1

// MaxSeed is the largest seed value; seeds live in [0, 2^32).
const MaxSeed = 1<<32 - 1

// RandomSeed returns a uniformly distributed seed in [0, 2^32).
func RandomSeed() int64 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		return 42
	}
	return int64(binary.LittleEndian.Uint32(buf[:]))
}

// ResolveSeed returns seed unchanged unless it is RandomSeedSentinel, in which
// case a random seed is drawn. Other out-of-range values are left for
// ValidateParams to reject.
func ResolveSeed(seed int64) int64 {
	if seed == RandomSeedSentinel {
		return RandomSeed()
	}
	return seed
}
