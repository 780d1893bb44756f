package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"can-entry-core/entry"
	"can-entry-core/sink"
	"can-entry-core/utils"
)

// Config holds the ClickHouse connection settings.
type Config struct {
	Host      string
	Port      int
	Database  string
	Username  string
	Password  string
	Table     string
	BatchSize int
}

// Writer mirrors recorded frames into a ClickHouse table.
type Writer struct {
	*sink.Batcher
	conn  driver.Conn
	table string
}

func New(ctx context.Context, cfg Config, log *utils.Logger) (*Writer, error) {
	if cfg.Table == "" {
		cfg.Table = "can_recording"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(ctx, createTableQuery(cfg.Table)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	w := &Writer{conn: conn, table: cfg.Table}
	w.Batcher = sink.NewBatcher("clickhouse", cfg.BatchSize, sink.DefaultFlushInterval, w.insert, log)
	w.Batcher.Start(ctx)
	return w, nil
}

func createTableQuery(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(6),
			direction LowCardinality(String),
			can_id UInt32,
			data Array(UInt8)
		) ENGINE = MergeTree()
		ORDER BY (timestamp, can_id)
		PARTITION BY toYYYYMMDD(timestamp)
		TTL toDateTime(timestamp) + INTERVAL 1 MONTH
	`, table)
}

// row is the column order of the recording table.
func row(e entry.LogEntry) []any {
	return []any{e.Timestamp, e.Direction.String(), e.FrameID, e.Data}
}

func (w *Writer) insert(ctx context.Context, entries []entry.LogEntry) error {
	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", w.table))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, e := range entries {
		if err := batch.Append(row(e)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Close flushes what is queued and closes the connection.
func (w *Writer) Close() error {
	_ = w.Batcher.Close()
	return w.conn.Close()
}
