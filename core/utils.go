package core

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SeedEnv names the environment variable fixing the layer-assignment seed.
const SeedEnv = "TOHNSW_SEED"

// SeedFromEnv parses TOHNSW_SEED. ok is false when the variable is unset,
// unparsable or zero, since a zero seed means "not configured".
func SeedFromEnv() (seed int64, ok bool) {
	raw := strings.TrimSpace(os.Getenv(SeedEnv))
	if raw == "" {
		return 0, false
	}
	seed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seed == 0 {
		log.Warn().Msgf("Ignoring %s value %q", SeedEnv, raw)
		return 0, false
	}
	return seed, true
}

// GetSeed returns the seed of a new index: TOHNSW_SEED when set, the clock
// otherwise. Vertex levels are drawn from it, so a fixed value makes builds
// reproducible. The result is never zero.
func GetSeed() int64 {
	if seed, ok := SeedFromEnv(); ok {
		log.Info().Msgf("Using seed from %s: %d", SeedEnv, seed)
		return seed
	}
	seed := time.Now().UnixNano() | 1
	log.Info().Msgf("Using current time as seed: %d", seed)
	return seed
}
