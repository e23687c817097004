package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wpeva/new-undetect-browser-sub005/internal/adaptive"
	"github.com/wpeva/new-undetect-browser-sub005/internal/detect"
)

// PgStore persists the active configuration and histories in PostgreSQL.
// Row-level locking on the single-row active_config table serializes
// concurrent saves.
type PgStore struct {
	pool       *pgxpool.Pool
	maxHistory int
}

func NewPgStore(pool *pgxpool.Pool, maxHistory int) *PgStore {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &PgStore{pool: pool, maxHistory: maxHistory}
}

func (s *PgStore) LoadConfig(ctx context.Context) (detect.ProtectionConfig, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT config FROM active_config WHERE id=1`).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return detect.DefaultProtectionConfig(), nil
	}
	if err != nil {
		return detect.ProtectionConfig{}, fmt.Errorf("load active config: %w", err)
	}
	var cfg detect.ProtectionConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return detect.ProtectionConfig{}, fmt.Errorf("decode active config: %w", err)
	}
	return cfg.Clamped(), nil
}

func (s *PgStore) SaveConfig(ctx context.Context, cfg detect.ProtectionConfig) error {
	payload, err := json.Marshal(cfg.Clamped())
	if err != nil {
		return fmt.Errorf("encode active config: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO active_config (id, config, updated_at) VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE SET config=$1, updated_at=now()`, payload)
	if err != nil {
		return fmt.Errorf("save active config: %w", err)
	}
	return nil
}

func (s *PgStore) AppendDetectionReport(ctx context.Context, report detect.DetectionReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode detection report: %w", err)
	}
	return s.appendBounded(ctx, "detection_reports", report.Timestamp, payload)
}

func (s *PgStore) ListDetectionReports(ctx context.Context, limit int) ([]detect.DetectionReport, error) {
	rows, err := s.listPayloads(ctx, "detection_reports", limit)
	if err != nil {
		return nil, err
	}
	out := make([]detect.DetectionReport, 0, len(rows))
	for _, payload := range rows {
		var report detect.DetectionReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return nil, fmt.Errorf("decode detection report: %w", err)
		}
		out = append(out, report)
	}
	return out, nil
}

func (s *PgStore) AppendUpdateResult(ctx context.Context, result adaptive.UpdateResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode update result: %w", err)
	}
	return s.appendBounded(ctx, "update_results", result.Timestamp, payload)
}

func (s *PgStore) ListUpdateResults(ctx context.Context, limit int) ([]adaptive.UpdateResult, error) {
	rows, err := s.listPayloads(ctx, "update_results", limit)
	if err != nil {
		return nil, err
	}
	out := make([]adaptive.UpdateResult, 0, len(rows))
	for _, payload := range rows {
		var result adaptive.UpdateResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, fmt.Errorf("decode update result: %w", err)
		}
		out = append(out, result)
	}
	return out, nil
}

// appendBounded inserts the entry and evicts everything older than the newest
// maxHistory rows in one transaction.
func (s *PgStore) appendBounded(ctx context.Context, table string, createdAt time.Time, payload []byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append to %s: %w", table, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (created_at, payload) VALUES ($1, $2)`, table),
		createdAt.UTC(), payload); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id NOT IN (SELECT id FROM %s ORDER BY id DESC LIMIT $1)`, table, table),
		s.maxHistory); err != nil {
		return fmt.Errorf("trim %s: %w", table, err)
	}
	return tx.Commit(ctx)
}

// listPayloads returns the newest rows in chronological order.
func (s *PgStore) listPayloads(ctx context.Context, table string, limit int) ([][]byte, error) {
	if limit <= 0 || limit > s.maxHistory {
		limit = s.maxHistory
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT payload FROM (
			SELECT id, payload FROM %s ORDER BY id DESC LIMIT $1
		) newest ORDER BY id ASC`, table), limit)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		out = append(out, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}
