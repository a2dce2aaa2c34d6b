package migrations

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"solana-token-analytics/internal/logger"
)

const clickhouseLedger = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version     UInt32,
    name        String,
    applied_at  DateTime DEFAULT now()
) ENGINE = MergeTree()
ORDER BY version`

// ApplyClickhouse applies pending embedded ClickHouse migrations and returns
// the number applied. ClickHouse has no transactions: a migration that fails
// midway is rerun from its first statement, so statements use IF NOT EXISTS.
func ApplyClickhouse(ctx context.Context, conn driver.Conn, log *logger.Logger) (int, error) {
	if log == nil {
		log = logger.NewNop()
	}

	all, err := Load(ClickhouseFS, "clickhouse")
	if err != nil {
		return 0, err
	}
	if err := conn.Exec(ctx, clickhouseLedger); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedClickhouse(ctx, conn)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range all {
		if applied[m.Version] {
			continue
		}
		for _, stmt := range m.Statements {
			if err := conn.Exec(ctx, stmt); err != nil {
				return n, fmt.Errorf("apply migration %s: %w", m, err)
			}
		}
		if err := conn.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, uint32(m.Version), m.Name); err != nil {
			return n, fmt.Errorf("record migration %s: %w", m, err)
		}
		n++
		log.Infow("applied migration", "database", "clickhouse", "migration", m.String())
	}
	return n, nil
}

func appliedClickhouse(ctx context.Context, conn driver.Conn) (map[int]bool, error) {
	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v uint32
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[int(v)] = true
	}
	return applied, rows.Err()
}
