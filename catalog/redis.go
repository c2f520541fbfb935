package catalog

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/mcpgateway/fedcore/gwerr"
	"github.com/mcpgateway/fedcore/upstream"
)

const keyPrefix = "catalog:targets:"

// RedisCatalog resolves target_id -> UpstreamRef via HGETALL against a
// Redis hash per target, read-mostly per spec §6's no-caching
// contract. Grounded on Alfred's redisclient.Client usage pattern.
type RedisCatalog struct {
	client *redis.Client
}

// NewRedisCatalog wraps an existing go-redis client.
func NewRedisCatalog(client *redis.Client) *RedisCatalog {
	return &RedisCatalog{client: client}
}

func (c *RedisCatalog) Resolve(ctx context.Context, targetID string) (upstream.Ref, error) {
	fields, err := c.client.HGetAll(ctx, keyPrefix+targetID).Result()
	if err != nil {
		return upstream.Ref{}, gwerr.Wrap(gwerr.NotFound, "resolving "+targetID, err)
	}
	if len(fields) == 0 {
		return upstream.Ref{}, gwerr.New(gwerr.NotFound, "unknown target: "+targetID)
	}
	return upstream.Ref{
		ID:     fields["id"],
		Kind:   fields["kind"],
		Target: fields["target"],
	}, nil
}

// Put writes an UpstreamRef mapping, used by admin tooling to manage
// the catalog (entity CRUD itself is out of this core's scope, spec §1).
func (c *RedisCatalog) Put(ctx context.Context, targetID string, ref upstream.Ref) error {
	return c.client.HSet(ctx, keyPrefix+targetID, map[string]any{
		"id":     ref.ID,
		"kind":   ref.Kind,
		"target": ref.Target,
	}).Err()
}
