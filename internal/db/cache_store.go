package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// DirectoryStore caches directory defaults per (conversation_id, channel)
type DirectoryStore struct {
	db *sql.DB
}

// NewDirectoryStore creates a new directory store from a base store
func NewDirectoryStore(store *Store) *DirectoryStore {
	if store == nil {
		return nil
	}
	return &DirectoryStore{db: store.DB()}
}

// SaveDirectory upserts the encoded candidate list for (conversation_id, channel)
func (ds *DirectoryStore) SaveDirectory(ctx context.Context, conversationID, channel string, candidates []byte, updatedAt int64) error {
	if ds == nil || ds.db == nil {
		return fmt.Errorf("directory store not initialized")
	}
	if strings.TrimSpace(conversationID) == "" || strings.TrimSpace(channel) == "" || len(candidates) == 0 {
		return fmt.Errorf("invalid directory inputs")
	}
	_, err := ds.db.ExecContext(ctx, `INSERT INTO directory_cache(conversation_id, channel, candidates, updated_at)
VALUES(?,?,?,?)
ON CONFLICT(conversation_id, channel) DO UPDATE SET candidates=excluded.candidates, updated_at=excluded.updated_at;
`, conversationID, channel, string(candidates), updatedAt)
	return err
}

// LoadDirectory returns the cached list and when it was stored
func (ds *DirectoryStore) LoadDirectory(ctx context.Context, conversationID, channel string) ([]byte, int64, bool, error) {
	if ds == nil || ds.db == nil {
		return nil, 0, false, fmt.Errorf("directory store not initialized")
	}
	var (
		out       string
		updatedAt int64
	)
	err := ds.db.QueryRowContext(ctx, `SELECT candidates, updated_at FROM directory_cache WHERE conversation_id=? AND channel=?`, conversationID, channel).Scan(&out, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	return []byte(out), updatedAt, true, nil
}

// PurgeDirectory removes entries stored before the given unix time and returns how many were removed
func (ds *DirectoryStore) PurgeDirectory(ctx context.Context, before int64) (int64, error) {
	if ds == nil || ds.db == nil {
		return 0, fmt.Errorf("directory store not initialized")
	}
	res, err := ds.db.ExecContext(ctx, `DELETE FROM directory_cache WHERE updated_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
