package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chis/fleetwatch/internal/model"
)

// SaveDevice creates or replaces a device.
func (s *SQLiteStorage) SaveDevice(ctx context.Context, d model.Device) error {
	document, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode device %s: %w", d.ID, err)
	}
	return s.retryWithBackoff(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO devices (id, name, ip, watch, document, updated_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		`, d.ID, d.Name, d.IP, d.Watch, string(document))
		if err != nil {
			return fmt.Errorf("failed to save device %s: %w", d.ID, err)
		}
		return nil
	})
}

// DeleteDevice removes a device. Its containers are left to the pruning pass
// of the next watcher registered for it.
func (s *SQLiteStorage) DeleteDevice(ctx context.Context, id string) error {
	return s.retryWithBackoff(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete device %s: %w", id, err)
		}
		return nil
	})
}

// FindDevice implements DeviceDirectory.
func (s *SQLiteStorage) FindDevice(ctx context.Context, id string) (model.Device, error) {
	var document string
	err := s.db.QueryRowContext(ctx, "SELECT document FROM devices WHERE id = ?", id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Device{}, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Device{}, fmt.Errorf("failed to query device %s: %w", id, err)
	}

	var d model.Device
	if err := json.Unmarshal([]byte(document), &d); err != nil {
		return model.Device{}, fmt.Errorf("failed to decode device %s: %w", id, err)
	}
	return d, nil
}

// ListWatchedDevices implements DeviceDirectory.
func (s *SQLiteStorage) ListWatchedDevices(ctx context.Context) ([]model.Device, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT document FROM devices WHERE watch = 1 ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	devices := make([]model.Device, 0)
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		var d model.Device
		if err := json.Unmarshal([]byte(document), &d); err != nil {
			return nil, fmt.Errorf("failed to decode device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device rows: %w", err)
	}
	return devices, nil
}
