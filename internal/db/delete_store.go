package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ajramos/casecomms/internal/services"
)

// DeleteRequestStore records every delete request transition, keyed by request ID
type DeleteRequestStore struct {
	db *sql.DB
}

// NewDeleteRequestStore creates a new delete request store
func NewDeleteRequestStore(store *Store) *DeleteRequestStore {
	if store == nil {
		return nil
	}
	return &DeleteRequestStore{db: store.DB()}
}

// SaveDeleteRequest upserts the latest state of a request
func (s *DeleteRequestStore) SaveDeleteRequest(ctx context.Context, req services.DeleteRequest) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("delete request store not initialized")
	}
	if strings.TrimSpace(req.RequestID) == "" || strings.TrimSpace(req.TargetID) == "" {
		return fmt.Errorf("request_id and target_id cannot be empty")
	}
	created, updated := req.CreatedAt, req.UpdatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if updated.IsZero() {
		updated = created
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delete_requests (request_id, target_id, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			updated_at = excluded.updated_at`,
		req.RequestID, req.TargetID, string(req.Status), req.Attempts, created.Unix(), updated.Unix())
	if err != nil {
		return fmt.Errorf("failed to save delete request: %w", err)
	}
	return nil
}

// GetDeleteRequest loads a request by ID
func (s *DeleteRequestStore) GetDeleteRequest(ctx context.Context, requestID string) (*services.DeleteRequest, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("delete request store not initialized")
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, target_id, status, attempts, created_at, updated_at
		FROM delete_requests
		WHERE request_id = ?`, requestID)
	req, err := scanDeleteRequest(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("delete request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delete request: %w", err)
	}
	return req, nil
}

// ListDeleteRequests returns requests with the given status, newest first.
// An empty status lists every request.
func (s *DeleteRequestStore) ListDeleteRequests(ctx context.Context, status services.DeleteStatus, limit int) ([]services.DeleteRequest, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("delete request store not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT request_id, target_id, status, attempts, created_at, updated_at
		FROM delete_requests`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, request_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list delete requests: %w", err)
	}
	defer rows.Close()

	var out []services.DeleteRequest
	for rows.Next() {
		req, err := scanDeleteRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delete request: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// ExpirePending marks pending requests created before cutoff as expired and returns how many changed
func (s *DeleteRequestStore) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("delete request store not initialized")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE delete_requests SET status = ?, updated_at = ?
		WHERE status = ? AND created_at < ?`,
		string(services.DeleteStatusExpired), time.Now().Unix(), string(services.DeleteStatusPending), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to expire delete requests: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDeleteRequest(row rowScanner) (*services.DeleteRequest, error) {
	var (
		req              services.DeleteRequest
		status           string
		created, updated int64
	)
	if err := row.Scan(&req.RequestID, &req.TargetID, &status, &req.Attempts, &created, &updated); err != nil {
		return nil, err
	}
	req.Status = services.DeleteStatus(status)
	req.CreatedAt = time.Unix(created, 0)
	req.UpdatedAt = time.Unix(updated, 0)
	return &req, nil
}
