package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chis/fleetwatch/internal/model"
)

// SaveRegistryAccount creates or replaces a registry account.
func (s *SQLiteStorage) SaveRegistryAccount(ctx context.Context, account model.RegistryAccount) error {
	authentication, err := json.Marshal(account.Authentication)
	if err != nil {
		return fmt.Errorf("failed to encode registry account %s: %w", account.Name, err)
	}
	return s.retryWithBackoff(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO registry_accounts (name, provider, authentication, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		`, account.Name, account.Provider, string(authentication))
		if err != nil {
			return fmt.Errorf("failed to save registry account %s: %w", account.Name, err)
		}
		return nil
	})
}

// ListRegistryAccounts implements RegistryAccountDirectory.
func (s *SQLiteStorage) ListRegistryAccounts(ctx context.Context) ([]model.RegistryAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, provider, authentication FROM registry_accounts ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list registry accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]model.RegistryAccount, 0)
	for rows.Next() {
		var account model.RegistryAccount
		var authentication string
		if err := rows.Scan(&account.Name, &account.Provider, &authentication); err != nil {
			return nil, fmt.Errorf("failed to scan registry account: %w", err)
		}
		if err := json.Unmarshal([]byte(authentication), &account.Authentication); err != nil {
			return nil, fmt.Errorf("failed to decode registry account %s: %w", account.Name, err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registry account rows: %w", err)
	}
	return accounts, nil
}
