package types

// PartitionKeyStrategy defines the strategy for routing rows to partitions.
type PartitionKeyStrategy string

const (
	// StrategyTime routes rows by event hour (YYYYMMDDHH format)
	StrategyTime PartitionKeyStrategy = "time"

	// StrategyHash routes rows by a hash of the taxi id (modulo N)
	StrategyHash PartitionKeyStrategy = "hash"
)

// PartitionKey represents a partition key used to route rows.
type PartitionKey struct {
	// Strategy is the partitioning strategy (time or hash)
	Strategy PartitionKeyStrategy `json:"strategy"`

	// Value is the computed partition key value
	Value string `json:"value"`
}

// PartitionKeyConfig holds configuration for partition key generation.
type PartitionKeyConfig struct {
	// Strategy is the partitioning strategy to use
	Strategy PartitionKeyStrategy `json:"strategy"`

	// HashModulo is the number of hash buckets (only used with StrategyHash)
	HashModulo int `json:"hash_modulo,omitempty"`
}
