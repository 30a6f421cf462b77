package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createGenerationLogTable = `
CREATE TABLE IF NOT EXISTS generation_log (
	id            UUID,
	provider      LowCardinality(String),
	model         LowCardinality(String),
	source        LowCardinality(String),
	outcome       LowCardinality(String),
	input_tokens  UInt32,
	output_tokens UInt32,
	latency_ms    UInt32,
	created_at    DateTime64(3, 'UTC')
) ENGINE = MergeTree
ORDER BY (provider, created_at)
TTL toDateTime(created_at) + INTERVAL 30 DAY`

// ClickHouseSink appends batches to the generation_log table.
type ClickHouseSink struct {
	conn driver.Conn
}

// NewClickHouseSink connects to dsn, pings and creates the table if needed.
func NewClickHouseSink(ctx context.Context, dsn string) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("logger: parse clickhouse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("logger: open clickhouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("logger: ping clickhouse: %w", err)
	}
	if err := conn.Exec(pingCtx, createGenerationLogTable); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("logger: create generation_log: %w", err)
	}

	return &ClickHouseSink{conn: conn}, nil
}

func (s *ClickHouseSink) Write(ctx context.Context, batch []GenerationLog) error {
	b, err := s.conn.PrepareBatch(ctx, "INSERT INTO generation_log")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range batch {
		if err := b.Append(
			e.ID,
			e.Provider,
			e.Model,
			e.Source,
			e.Outcome,
			e.InputTokens,
			e.OutputTokens,
			e.LatencyMs,
			normalizeTime(e.CreatedAt),
		); err != nil {
			_ = b.Abort()
			return fmt.Errorf("append: %w", err)
		}
	}

	if err := b.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
