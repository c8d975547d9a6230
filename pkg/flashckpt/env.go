package flashckpt

import (
	"os"
	"strconv"
)

// Environment variable names read by EnvFromOS. These follow the
// torchelastic launcher conventions.
const (
	envRank         = "RANK"
	envLocalRank    = "LOCAL_RANK"
	envRestartCount = "TORCHELASTIC_RESTART_COUNT"
)

// Env is the execution-environment input to the engine: the process's
// position in the training job and whether this is a post-crash
// restart. It is an explicit value rather than an ambient read so tests
// can simulate restarts deterministically.
type Env struct {
	// Rank is the process's global index within the training job.
	Rank int

	// LocalRank is the process's index on its node.
	LocalRank int

	// RestartCount is how many times the launcher has restarted this
	// process. Zero means first start; anything greater changes the
	// bootstrap and lock-recovery behavior.
	RestartCount int
}

// EnvFromOS reads the environment the way the launcher populates it.
// Missing or malformed variables default to zero.
func EnvFromOS() Env {
	return Env{
		Rank:         envInt(envRank),
		LocalRank:    envInt(envLocalRank),
		RestartCount: envInt(envRestartCount),
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
