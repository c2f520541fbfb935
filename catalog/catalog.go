// Package catalog implements spec §6's Catalog collaborator:
// resolve(target_id) -> UpstreamRef | NotFound. Read-mostly; the core
// caches nothing by contract, so every Resolve call reaches the
// backing store directly.
package catalog

import (
	"context"

	"github.com/mcpgateway/fedcore/gwerr"
	"github.com/mcpgateway/fedcore/upstream"
)

// Resolver is the interface the Dispatcher depends on.
type Resolver interface {
	Resolve(ctx context.Context, targetID string) (upstream.Ref, error)
}

// MemoryCatalog is a static in-memory Resolver, for tests and local
// development.
type MemoryCatalog struct {
	refs map[string]upstream.Ref
}

// NewMemoryCatalog builds a MemoryCatalog from a target_id -> Ref map.
func NewMemoryCatalog(refs map[string]upstream.Ref) *MemoryCatalog {
	copied := make(map[string]upstream.Ref, len(refs))
	for k, v := range refs {
		copied[k] = v
	}
	return &MemoryCatalog{refs: copied}
}

func (c *MemoryCatalog) Resolve(ctx context.Context, targetID string) (upstream.Ref, error) {
	ref, ok := c.refs[targetID]
	if !ok {
		return upstream.Ref{}, gwerr.New(gwerr.NotFound, "unknown target: "+targetID)
	}
	return ref, nil
}

// Put registers or updates a mapping, used by tests and by callers
// wiring static upstream configuration.
func (c *MemoryCatalog) Put(targetID string, ref upstream.Ref) {
	c.refs[targetID] = ref
}
