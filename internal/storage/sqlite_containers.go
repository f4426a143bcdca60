package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chis/fleetwatch/internal/model"
)

// FindContainer implements ContainerRepository.
func (s *SQLiteStorage) FindContainer(ctx context.Context, id string) (model.Container, error) {
	var document string
	err := s.db.QueryRowContext(ctx, "SELECT document FROM containers WHERE id = ?", id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Container{}, fmt.Errorf("container %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Container{}, fmt.Errorf("failed to query container %s: %w", id, err)
	}
	return decodeContainer(document)
}

// CreateContainer implements ContainerRepository. It replaces any record
// with the same id.
func (s *SQLiteStorage) CreateContainer(ctx context.Context, c model.Container) (model.Container, error) {
	c.UpdatedAt = time.Now().UTC()
	document, err := json.Marshal(c)
	if err != nil {
		return model.Container{}, fmt.Errorf("failed to encode container %s: %w", c.ID, err)
	}

	err = s.retryWithBackoff(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO containers (id, watcher, name, document, created_at, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		`, c.ID, c.Watcher, c.Name, string(document))
		return err
	})
	if err != nil {
		return model.Container{}, fmt.Errorf("failed to create container %s: %w", c.ID, err)
	}
	return c, nil
}

// UpdateContainer implements ContainerRepository.
func (s *SQLiteStorage) UpdateContainer(ctx context.Context, c model.Container) (model.Container, error) {
	c.UpdatedAt = time.Now().UTC()
	document, err := json.Marshal(c)
	if err != nil {
		return model.Container{}, fmt.Errorf("failed to encode container %s: %w", c.ID, err)
	}

	var affected int64
	err = s.retryWithBackoff(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE containers SET watcher = ?, name = ?, document = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, c.Watcher, c.Name, string(document), c.ID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return model.Container{}, fmt.Errorf("failed to update container %s: %w", c.ID, err)
	}
	if affected == 0 {
		return model.Container{}, fmt.Errorf("container %s: %w", c.ID, ErrNotFound)
	}
	return c, nil
}

// DeleteContainer implements ContainerRepository. Deleting a missing
// container is not an error.
func (s *SQLiteStorage) DeleteContainer(ctx context.Context, id string) error {
	return s.retryWithBackoff(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM containers WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete container %s: %w", id, err)
		}
		return nil
	})
}

// ListContainersByWatcher implements ContainerRepository.
func (s *SQLiteStorage) ListContainersByWatcher(ctx context.Context, watcher string) ([]model.Container, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT document FROM containers WHERE watcher = ? ORDER BY name, id", watcher)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers of %s: %w", watcher, err)
	}
	defer rows.Close()

	containers := make([]model.Container, 0)
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan container: %w", err)
		}
		c, err := decodeContainer(document)
		if err != nil {
			return nil, err
		}
		containers = append(containers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating container rows: %w", err)
	}
	return containers, nil
}

func decodeContainer(document string) (model.Container, error) {
	var c model.Container
	if err := json.Unmarshal([]byte(document), &c); err != nil {
		return model.Container{}, fmt.Errorf("failed to decode container: %w", err)
	}
	return c, nil
}
