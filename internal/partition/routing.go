package partition

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/arkilian/taxistream/pkg/types"
)

// hourLayout formats time partition keys, one partition group per event hour.
const hourLayout = "2006010215"

// Router determines the partition key for a record based on the configured strategy.
type Router struct {
	config  types.PartitionKeyConfig
	hashCol int
}

// NewRouter creates a router. hashColumn names the BIGINT column hashed by
// StrategyHash and must exist in schema.
func NewRouter(config types.PartitionKeyConfig, schema types.Schema, hashColumn string) (*Router, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	r := &Router{config: config, hashCol: -1}
	if config.Strategy == types.StrategyHash {
		r.hashCol = schema.IndexOf(hashColumn)
		if r.hashCol < 0 {
			return nil, fmt.Errorf("routing: hash column %q not in schema", hashColumn)
		}
		if schema.Columns[r.hashCol].Type != types.TypeBigInt {
			return nil, fmt.Errorf("routing: hash column %q must be %s", hashColumn, types.TypeBigInt)
		}
	}
	return r, nil
}

// Route computes the partition key for a single record.
func (r *Router) Route(rec types.Record) (types.PartitionKey, error) {
	var value string
	switch r.config.Strategy {
	case types.StrategyTime:
		value = routeByHour(rec.EventTime)
	case types.StrategyHash:
		if r.hashCol >= len(rec.Row) {
			return types.PartitionKey{}, fmt.Errorf("routing: record has %d cells, hash column is %d", len(rec.Row), r.hashCol)
		}
		value = routeByHash(rec.Row[r.hashCol].Int64(), r.config.HashModulo)
	default:
		return types.PartitionKey{}, fmt.Errorf("routing: unsupported strategy %q", r.config.Strategy)
	}
	return types.PartitionKey{Strategy: r.config.Strategy, Value: value}, nil
}

// Group splits records by partition key, preserving arrival order within each group.
func (r *Router) Group(recs []types.Record) (map[string][]types.Record, error) {
	groups := make(map[string][]types.Record)
	for _, rec := range recs {
		key, err := r.Route(rec)
		if err != nil {
			return nil, err
		}
		groups[key.Value] = append(groups[key.Value], rec)
	}
	return groups, nil
}

func routeByHour(eventTimeMillis int64) string {
	return time.UnixMilli(eventTimeMillis).UTC().Format(hourLayout)
}

func routeByHash(id int64, modulo int) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return fmt.Sprintf("bucket_%03d", murmur3.Sum64(b[:])%uint64(modulo))
}

func validateConfig(config types.PartitionKeyConfig) error {
	switch config.Strategy {
	case types.StrategyTime:
	case types.StrategyHash:
		if config.HashModulo <= 0 {
			return fmt.Errorf("routing: hash_modulo must be > 0, got %d", config.HashModulo)
		}
	default:
		return fmt.Errorf("routing: unsupported strategy %q", config.Strategy)
	}
	return nil
}
