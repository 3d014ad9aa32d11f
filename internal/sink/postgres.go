package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	tserrors "github.com/arkilian/taxistream/internal/errors"
	"github.com/arkilian/taxistream/internal/logging"
	"github.com/arkilian/taxistream/internal/table"
	"github.com/arkilian/taxistream/pkg/types"
)

// pgExecutor is the subset of *pgxpool.Pool the sink uses.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresSink copies rows into a Postgres table in batches and upserts the
// latest watermark into taxi_ride_watermarks, keyed by table name.
type PostgresSink struct {
	db      pgExecutor
	closeDB func()
	table   string
	columns []string
	logger  *zap.SugaredLogger

	batchSize int

	mu      sync.Mutex
	pending [][]any
	copied  int64
}

// WatermarkTable holds one row per sink table.
const WatermarkTable = "taxi_ride_watermarks"

// NewPostgresSink connects with cfg.Postgres.DSN and creates the tables.
func NewPostgresSink(ctx context.Context, cfg Config, opts ...Option) (*PostgresSink, error) {
	if cfg.Postgres.DSN == "" {
		return nil, tserrors.NewConfigurationError("sink.postgres.dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, tserrors.NewConfigurationError(fmt.Sprintf("invalid postgres dsn: %v", err))
	}
	s := newPostgresSink(pool, pool.Close, cfg, opts...)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresSink(db pgExecutor, closeDB func(), cfg Config, opts ...Option) *PostgresSink {
	o := buildOptions(opts)
	name := cfg.Postgres.Table
	if name == "" {
		name = "taxi_rides"
	}
	return &PostgresSink{
		db:        db,
		closeDB:   closeDB,
		table:     name,
		columns:   table.TableSchema().Names(),
		logger:    logging.Named(o.logger, "sink.postgres"),
		batchSize: max(1, cfg.BatchSize),
	}
}

// Migrate creates the ride and watermark tables if they do not exist.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	for _, stmt := range []string{createRidesSQL(s.table, table.TableSchema()), createWatermarksSQL} {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return tserrors.NewSinkError("postgres migrate", err)
		}
	}
	return nil
}

func (s *PostgresSink) WriteRow(ctx context.Context, row types.Row, timestampMillis int64) error {
	full := table.WithEventTime(row, timestampMillis)
	values := make([]any, len(full))
	for i, cell := range full {
		values[i] = cell.Interface()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, values)
	if len(s.pending) < s.batchSize {
		return nil
	}
	return s.flushLocked(ctx)
}

func (s *PostgresSink) WriteWatermark(ctx context.Context, watermarkMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushLocked(ctx); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, upsertWatermarkSQL, s.table, watermarkMillis, false); err != nil {
		return writeError("postgres", err)
	}
	return nil
}

func (s *PostgresSink) Finish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushLocked(ctx); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, finishSQL, s.table); err != nil {
		return writeError("postgres", err)
	}
	s.logger.Infow("stream complete", "table", s.table, "rows", s.copied)
	return nil
}

func (s *PostgresSink) Close() error {
	if s.closeDB != nil {
		s.closeDB()
	}
	return nil
}

func (s *PostgresSink) flushLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	batch := s.pending
	s.pending = nil

	n, err := s.db.CopyFrom(ctx, pgx.Identifier{s.table}, s.columns, pgx.CopyFromRows(batch))
	if err != nil {
		return writeError("postgres", fmt.Errorf("copy %d rows: %w", len(batch), err))
	}
	s.copied += n
	s.logger.Debugw("batch copied", "rows", n, "total", s.copied)
	return nil
}

func createRidesSQL(name string, schema types.Schema) string {
	cols := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = fmt.Sprintf("%s %s NOT NULL", pgx.Identifier{c.Name}.Sanitize(), c.Type.PostgresType())
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pgx.Identifier{name}.Sanitize(), strings.Join(cols, ", "))
}

const createWatermarksSQL = `CREATE TABLE IF NOT EXISTS ` + WatermarkTable + ` (
	source_table TEXT PRIMARY KEY,
	watermark    BIGINT NOT NULL,
	finished     BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertWatermarkSQL = `INSERT INTO ` + WatermarkTable + ` (source_table, watermark, finished, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (source_table) DO UPDATE
SET watermark = GREATEST(` + WatermarkTable + `.watermark, EXCLUDED.watermark), finished = EXCLUDED.finished, updated_at = now()`

const finishSQL = `UPDATE ` + WatermarkTable + ` SET finished = TRUE, updated_at = now() WHERE source_table = $1`
