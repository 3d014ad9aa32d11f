package partition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arkilian/taxistream/internal/bloom"
	"github.com/arkilian/taxistream/pkg/types"
)

// MetadataSidecar represents the .meta.json file written next to each partition.
type MetadataSidecar struct {
	PartitionID   string                    `json:"partition_id"`
	PartitionKey  string                    `json:"partition_key"`
	SchemaVersion int                       `json:"schema_version"`
	Columns       []types.ColumnDef         `json:"columns"`
	Stats         PartitionStats            `json:"stats"`
	BloomFilters  map[string]*bloom.Encoded `json:"bloom_filters,omitempty"`
	// CompleteThrough is the watermark in force when the partition was cut:
	// no later partition holds a row at or below it.
	CompleteThrough *int64 `json:"complete_through,omitempty"`
	CreatedAt       int64  `json:"created_at"`
}

// PartitionStats holds partition-level statistics.
type PartitionStats struct {
	RowCount     int64             `json:"row_count"`
	SizeBytes    int64             `json:"size_bytes"`
	MinEventTime int64             `json:"min_event_time"`
	MaxEventTime int64             `json:"max_event_time"`
	Columns      map[string]MinMax `json:"columns,omitempty"`
}

// MetadataGenerator generates metadata sidecars for partitions.
type MetadataGenerator struct {
	schema       types.Schema
	bloomColumns []string
	targetFPR    float64
}

// NewMetadataGenerator creates a generator that builds bloom filters for the
// named BIGINT columns of schema.
func NewMetadataGenerator(schema types.Schema, bloomColumns ...string) (*MetadataGenerator, error) {
	for _, name := range bloomColumns {
		i := schema.IndexOf(name)
		if i < 0 {
			return nil, fmt.Errorf("metadata: bloom column %q not in schema", name)
		}
		if schema.Columns[i].Type != types.TypeBigInt {
			return nil, fmt.Errorf("metadata: bloom column %q must be %s", name, types.TypeBigInt)
		}
	}
	return &MetadataGenerator{
		schema:       schema,
		bloomColumns: bloomColumns,
		targetFPR:    0.01,
	}, nil
}

// Generate creates the sidecar for a built partition. rows are the
// materialized rows the partition was built from.
func (g *MetadataGenerator) Generate(info *PartitionInfo, rows []types.Row, completeThrough *int64) (*MetadataSidecar, error) {
	filters := make(map[string]*bloom.Encoded, len(g.bloomColumns))
	for _, name := range g.bloomColumns {
		col := g.schema.IndexOf(name)
		f := bloom.ForCapacity(len(rows), g.targetFPR)
		for _, row := range rows {
			f.AddID(row[col].Int64())
		}
		enc, err := f.Encode()
		if err != nil {
			return nil, fmt.Errorf("metadata: failed to encode %s bloom filter: %w", name, err)
		}
		filters[name] = enc
	}

	return &MetadataSidecar{
		PartitionID:   info.PartitionID,
		PartitionKey:  info.PartitionKey,
		SchemaVersion: info.SchemaVersion,
		Columns:       g.schema.Clone().Columns,
		Stats: PartitionStats{
			RowCount:     info.RowCount,
			SizeBytes:    info.SizeBytes,
			MinEventTime: info.MinEventTime,
			MaxEventTime: info.MaxEventTime,
			Columns:      info.MinMaxStats,
		},
		BloomFilters:    filters,
		CompleteThrough: completeThrough,
		CreatedAt:       info.CreatedAt.Unix(),
	}, nil
}

// GenerateAndWrite generates the sidecar and writes it next to the SQLite file.
func (g *MetadataGenerator) GenerateAndWrite(info *PartitionInfo, rows []types.Row, completeThrough *int64) (string, error) {
	sidecar, err := g.Generate(info, rows, completeThrough)
	if err != nil {
		return "", err
	}
	path := MetadataPath(info.SQLitePath)
	if err := sidecar.WriteToFile(path); err != nil {
		return "", err
	}
	info.MetadataPath = path
	return path, nil
}

// MayContain reports whether the partition may hold a row with id in column.
// Columns without a filter always report true.
func (s *MetadataSidecar) MayContain(column string, id int64) (bool, error) {
	enc, ok := s.BloomFilters[column]
	if !ok {
		return true, nil
	}
	f, err := bloom.Decode(enc)
	if err != nil {
		return true, err
	}
	return f.MayContainID(id), nil
}

// WriteToFile writes the metadata sidecar to a JSON file.
func (s *MetadataSidecar) WriteToFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: failed to marshal sidecar: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("metadata: failed to write sidecar file: %w", err)
	}
	return nil
}

// ReadMetadataFromFile reads a metadata sidecar from a JSON file.
func ReadMetadataFromFile(path string) (*MetadataSidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metadata: failed to read sidecar file: %w", err)
	}
	var sidecar MetadataSidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return nil, fmt.Errorf("metadata: failed to unmarshal sidecar: %w", err)
	}
	return &sidecar, nil
}

// MetadataPath returns the sidecar path for a given SQLite path.
func MetadataPath(sqlitePath string) string {
	dir, base := filepath.Split(sqlitePath)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".meta.json")
}

// CreatedAtTime returns the creation time as time.Time.
func (s *MetadataSidecar) CreatedAtTime() time.Time {
	return time.Unix(s.CreatedAt, 0)
}
