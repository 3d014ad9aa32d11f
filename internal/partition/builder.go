// Package partition builds immutable SQLite micro-partitions of ride records.
package partition

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/arkilian/taxistream/pkg/types"
)

// TableName is the table every partition file holds.
const TableName = "rides"

// statsTableName holds per-column min/max inside each partition file.
const statsTableName = "_taxistream_stats"

// PartitionBuilder creates SQLite micro-partitions from records.
type PartitionBuilder interface {
	Build(ctx context.Context, recs []types.Record, key types.PartitionKey) (*PartitionInfo, error)
}

// PartitionInfo contains metadata about a created partition.
type PartitionInfo struct {
	PartitionID   string
	PartitionKey  string
	SQLitePath    string
	MetadataPath  string
	RowCount      int64
	SizeBytes     int64
	MinMaxStats   map[string]MinMax
	MinEventTime  int64
	MaxEventTime  int64
	SchemaVersion int
	CreatedAt     time.Time
}

// Builder implements PartitionBuilder for one table schema.
type Builder struct {
	outputDir string
	schema    types.Schema
	rowtime   int
	validator *SchemaValidator
}

var _ PartitionBuilder = (*Builder)(nil)

// NewBuilder creates a builder writing partitions of schema into outputDir.
func NewBuilder(outputDir string, schema types.Schema) (*Builder, error) {
	if err := ValidateSchema(schema); err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}
	return &Builder{
		outputDir: outputDir,
		schema:    schema.Clone(),
		rowtime:   rowtimeIndex(schema),
		validator: NewSchemaValidator(schema),
	}, nil
}

// Schema returns the table schema of built partitions.
func (b *Builder) Schema() types.Schema { return b.schema.Clone() }

// Materialize turns a record into a full table row. Records without the
// rowtime cell get it appended from their event time.
func (b *Builder) Materialize(rec types.Record) types.Row {
	if b.rowtime == len(b.schema.Columns)-1 && len(rec.Row) == len(b.schema.Columns)-1 {
		row := make(types.Row, 0, len(b.schema.Columns))
		row = append(row, rec.Row...)
		return append(row, types.TimestampValue(rec.EventTime))
	}
	return rec.Row
}

// Build writes recs into a new partition file.
func (b *Builder) Build(ctx context.Context, recs []types.Record, key types.PartitionKey) (*PartitionInfo, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("partition: cannot build partition with empty rows")
	}

	rows := make([]types.Row, len(recs))
	for i, rec := range recs {
		rows[i] = b.Materialize(rec)
	}
	if err := b.validator.Validate(rows); err != nil {
		return nil, fmt.Errorf("partition: validation failed: %w", err)
	}

	partitionID := fmt.Sprintf("%s_%s_%s", TableName, key.Value, uuid.New().String()[:8])
	createdAt := time.Now()

	if err := os.MkdirAll(b.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("partition: failed to create output directory: %w", err)
	}
	sqlitePath := filepath.Clean(filepath.Join(b.outputDir, partitionID+".sqlite"))

	stats, err := b.write(ctx, sqlitePath, rows)
	if err != nil {
		os.Remove(sqlitePath)
		return nil, err
	}

	fileInfo, err := os.Stat(sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to stat SQLite file: %w", err)
	}

	info := &PartitionInfo{
		PartitionID:   partitionID,
		PartitionKey:  key.Value,
		SQLitePath:    sqlitePath,
		RowCount:      stats.RowCount(),
		SizeBytes:     fileInfo.Size(),
		MinMaxStats:   stats.MinMaxStats(),
		SchemaVersion: b.schema.Version,
		CreatedAt:     createdAt,
	}
	if b.rowtime >= 0 {
		info.MinEventTime, info.MaxEventTime, _ = stats.Int64Range(b.schema.Columns[b.rowtime].Name)
	}
	return info, nil
}

func (b *Builder) write(ctx context.Context, path string, rows []types.Row) (*StatsTracker, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to create SQLite database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("partition: failed to set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL(b.schema)); err != nil {
		return nil, fmt.Errorf("partition: failed to create %s table: %w", TableName, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL(b.schema))
	if err != nil {
		return nil, fmt.Errorf("partition: failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	stats := NewStatsTracker(b.schema)
	args := make([]any, b.schema.Arity())
	for _, row := range rows {
		for i, v := range row {
			args[i] = sqliteArg(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return nil, fmt.Errorf("partition: failed to insert row: %w", err)
		}
		stats.Update(row)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("partition: failed to commit rows: %w", err)
	}

	// Indexes are created after the bulk insert.
	for _, idx := range b.schema.Indexes {
		if _, err := db.ExecContext(ctx, createIndexSQL(idx)); err != nil {
			return nil, fmt.Errorf("partition: failed to create index %s: %w", idx.Name, err)
		}
	}

	if err := writeStatsTable(ctx, db, stats); err != nil {
		return nil, err
	}

	// Checkpoint WAL and switch to DELETE mode so the file is self-contained.
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("partition: failed to checkpoint WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return nil, fmt.Errorf("partition: failed to set journal mode to DELETE: %w", err)
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("partition: failed to close database: %w", err)
	}
	return stats, nil
}

func writeStatsTable(ctx context.Context, db *sql.DB, stats *StatsTracker) error {
	ddl := fmt.Sprintf(`CREATE TABLE %s (
		column_name TEXT PRIMARY KEY,
		min_value TEXT,
		max_value TEXT
	) WITHOUT ROWID`, statsTableName)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("partition: failed to create stats table: %w", err)
	}
	for name, mm := range stats.MinMaxStats() {
		if _, err := db.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (column_name, min_value, max_value) VALUES (?, ?, ?)", statsTableName),
			name, fmt.Sprint(mm.Min), fmt.Sprint(mm.Max)); err != nil {
			return fmt.Errorf("partition: failed to write stats for %s: %w", name, err)
		}
	}
	return nil
}

func createTableSQL(schema types.Schema) string {
	cols := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = fmt.Sprintf("%q %s NOT NULL", c.Name, c.Type.SQLiteType())
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", TableName, strings.Join(cols, ",\n\t"))
}

func insertSQL(schema types.Schema) string {
	names := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		names[i] = fmt.Sprintf("%q", c.Name)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", TableName, strings.Join(names, ", "), placeholders)
}

func createIndexSQL(idx types.IndexDef) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = fmt.Sprintf("%q", c)
	}
	return fmt.Sprintf("CREATE INDEX %s ON %s(%s)", idx.Name, TableName, strings.Join(cols, ", "))
}

// sqliteArg converts a cell to its SQLite storage value. Timestamps are
// stored as Unix milliseconds.
func sqliteArg(v types.Value) any {
	switch v.Kind() {
	case types.TypeBoolean:
		return v.Bool()
	case types.TypeFloat:
		return float64(v.Float32())
	case types.TypeSmallInt:
		return int64(v.Int16())
	default:
		return v.Int64()
	}
}
