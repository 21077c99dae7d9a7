package dynamods

// Config holds configuration for the DynamoDB-backed store.
type Config struct {
	// Table is the single table holding all entities.
	// Default: "arbor_entities"
	Table string

	// SequenceKey is the partition key prefix reserved for the numeric
	// ID counter items (one per kind).
	// Default: "__sequence__"
	SequenceKey string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Table:       "arbor_entities",
		SequenceKey: "__sequence__",
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "arbor_entities"
	}
	if c.SequenceKey == "" {
		c.SequenceKey = "__sequence__"
	}
}
