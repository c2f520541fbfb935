package pool

import "github.com/mcpgateway/fedcore/upstream"

// entry wraps one upstream.Session with the pool-owned metadata spec
// §3's UpstreamSession describes (reuse_count, generation, health).
type entry struct {
	sess upstream.Session

	id           string
	createdAtMS  int64
	lastUsedAtMS int64
	inUse        bool
	reuseCount   int64
	generation   int64

	// preFailCount counts consecutive pre-ping failures; two in a row
	// evicts the session (spec §4.4).
	preFailCount int
	lastError    error
}
