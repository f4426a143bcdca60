package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chis/fleetwatch/internal/model"
)

// CreateStats implements ContainerStatsRepository. A missing id or creation
// time is filled in.
func (s *SQLiteStorage) CreateStats(ctx context.Context, stats model.ContainerStats) error {
	if stats.ID == "" {
		stats.ID = uuid.NewString()
	}
	if stats.CreatedAt.IsZero() {
		stats.CreatedAt = time.Now().UTC()
	}

	return s.retryWithBackoff(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO container_stats
			(id, container_id, cpu_percent, memory_usage, memory_limit, memory_percent, network_rx, network_tx, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, stats.ID, stats.ContainerID, stats.CPUPercent, int64(stats.MemoryUsage), int64(stats.MemoryLimit),
			stats.MemoryPercent, int64(stats.NetworkRx), int64(stats.NetworkTx), stats.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to save stats of %s: %w", stats.ContainerID, err)
		}
		return nil
	})
}

// LatestStats returns up to limit snapshots of a container, newest first.
func (s *SQLiteStorage) LatestStats(ctx context.Context, containerID string, limit int) ([]model.ContainerStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, container_id, cpu_percent, memory_usage, memory_limit, memory_percent, network_rx, network_tx, created_at
		FROM container_stats
		WHERE container_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, containerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats of %s: %w", containerID, err)
	}
	defer rows.Close()

	out := make([]model.ContainerStats, 0)
	for rows.Next() {
		var st model.ContainerStats
		var usage, memLimit, rx, tx int64
		err := rows.Scan(&st.ID, &st.ContainerID, &st.CPUPercent, &usage, &memLimit,
			&st.MemoryPercent, &rx, &tx, &st.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		st.MemoryUsage, st.MemoryLimit = uint64(usage), uint64(memLimit)
		st.NetworkRx, st.NetworkTx = uint64(rx), uint64(tx)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats rows: %w", err)
	}
	return out, nil
}
