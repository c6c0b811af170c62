package postgres

import (
	"context"
	"fmt"
	"time"

	"fieldops/internal/store"

	"github.com/google/uuid"
)

const mappingColumns = `entity_type, local_table, local_id, remote_id, remote_sync_token, last_synced_at`

func scanMapping(row rowScanner) (*store.EntityMapping, error) {
	var m store.EntityMapping
	if err := row.Scan(&m.EntityType, &m.LocalTable, &m.LocalID, &m.RemoteID, &m.RemoteSyncToken, &m.LastSyncedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// lockClause returns FOR UPDATE only when running inside a transaction;
// a row lock on an autocommit statement would be released immediately.
func lockClause(tx store.DBTransaction) string {
	if tx != nil {
		return " FOR UPDATE"
	}
	return ""
}

// FindMappingByRemote resolves an accounting-side id to its local record.
func (s *Store) FindMappingByRemote(ctx context.Context, tx store.DBTransaction, entityType, remoteID string) (*store.EntityMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM entity_map WHERE entity_type = $1 AND remote_id = $2` + lockClause(tx)

	m, err := scanMapping(s.getExecutor(tx).QueryRowContext(ctx, query, entityType, remoteID))
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrMappingNotFound
		}
		return nil, fmt.Errorf("find %s mapping for remote %s: %w", entityType, remoteID, err)
	}
	return m, nil
}

// FindMappingByLocal resolves a local record to its accounting-side id.
func (s *Store) FindMappingByLocal(ctx context.Context, tx store.DBTransaction, entityType string, localID uuid.UUID) (*store.EntityMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM entity_map WHERE entity_type = $1 AND local_id = $2` + lockClause(tx)

	m, err := scanMapping(s.getExecutor(tx).QueryRowContext(ctx, query, entityType, localID))
	if err != nil {
		if isNoRows(err) {
			return nil, store.ErrMappingNotFound
		}
		return nil, fmt.Errorf("find %s mapping for local %s: %w", entityType, localID, err)
	}
	return m, nil
}

// SaveMapping upserts on (entity_type, local_id), refreshing the remote id,
// sync token and timestamp.
func (s *Store) SaveMapping(ctx context.Context, tx store.DBTransaction, m *store.EntityMapping) error {
	if m.LastSyncedAt.IsZero() {
		m.LastSyncedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO entity_map (entity_type, local_table, local_id, remote_id, remote_sync_token, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entity_type, local_id) DO UPDATE
		SET remote_id = EXCLUDED.remote_id,
		    remote_sync_token = EXCLUDED.remote_sync_token,
		    last_synced_at = EXCLUDED.last_synced_at
	`

	_, err := s.getExecutor(tx).ExecContext(ctx, query,
		m.EntityType, m.LocalTable, m.LocalID, m.RemoteID, m.RemoteSyncToken, m.LastSyncedAt,
	)
	if err != nil {
		return fmt.Errorf("save %s mapping: %w", m.EntityType, err)
	}
	return nil
}
