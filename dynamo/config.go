package dynamo

// Config holds configuration for a Backend.
type Config struct {
	// Table is the DynamoDB table holding the entity's items.
	// Required.
	Table string

	// RefIndex is the GSI keyed on entity_ref, used for global lookups
	// where the ancestor chain is unknown at lookup time. It materializes
	// the precondition that an entity type's ids are globally unique
	// across its ancestors.
	// Default: "by_ref"
	RefIndex string

	// NumShards is the number of shards for location partitions.
	// Higher values increase write throughput per location but require
	// fan-out on listing queries.
	// Default: 1 (no sharding, single query)
	// Max: 256
	NumShards int
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.RefIndex == "" {
		c.RefIndex = "by_ref"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
}
