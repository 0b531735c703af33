package stores

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/types"
)

// ConsoleAuthTokenCreate persists a new console token hash.
func (s *SQLiteStore) ConsoleAuthTokenCreate(ctx context.Context, token *types.ConsoleAuthToken) error {
	query := `
		INSERT INTO console_auth_tokens (node_uuid, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		token.NodeUUID,
		token.TokenHash,
		fmtTime(token.ExpiresAt),
		fmtTime(token.CreatedAt),
	)
	if err != nil {
		return mapCreateError(err, "console auth token", token.NodeUUID)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get token id: %w", err)
	}
	token.ID = id
	return nil
}

func scanConsoleAuthToken(row rowScanner) (*types.ConsoleAuthToken, error) {
	var (
		t                types.ConsoleAuthToken
		expires, created string
	)
	err := row.Scan(&t.ID, &t.NodeUUID, &t.TokenHash, &expires, &created)
	if err != nil {
		return nil, err
	}
	if t.ExpiresAt, err = parseTime(expires); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &t, nil
}

// ConsoleAuthTokenGetByTokenHash looks a token up by the sha256 of its
// plaintext.
func (s *SQLiteStore) ConsoleAuthTokenGetByTokenHash(ctx context.Context, tokenHash string) (*types.ConsoleAuthToken, error) {
	query := `
		SELECT id, node_uuid, token_hash, expires_at, created_at
		FROM console_auth_tokens
		WHERE token_hash = ?
	`
	token, err := scanConsoleAuthToken(s.db.QueryRowContext(ctx, query, tokenHash))
	if err == sql.ErrNoRows {
		return nil, engine.NewNotFound("console auth token not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get console auth token: %w", err)
	}
	return token, nil
}

// ConsoleAuthTokenGetLiveByNodeUUID returns the unexpired token for a node,
// if any.
func (s *SQLiteStore) ConsoleAuthTokenGetLiveByNodeUUID(ctx context.Context, nodeUUID string, now time.Time) (*types.ConsoleAuthToken, error) {
	query := `
		SELECT id, node_uuid, token_hash, expires_at, created_at
		FROM console_auth_tokens
		WHERE node_uuid = ? AND expires_at > ?
		ORDER BY id DESC
		LIMIT 1
	`
	token, err := scanConsoleAuthToken(s.db.QueryRowContext(ctx, query, nodeUUID, fmtTime(now)))
	if err == sql.ErrNoRows {
		return nil, engine.NewNotFound(fmt.Sprintf("no live console auth token for node %s", nodeUUID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get console auth token: %w", err)
	}
	return token, nil
}

// ConsoleAuthTokenDestroyByNodeUUID removes every token issued for a node.
func (s *SQLiteStore) ConsoleAuthTokenDestroyByNodeUUID(ctx context.Context, nodeUUID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM console_auth_tokens WHERE node_uuid = ?`, nodeUUID)
	if err != nil {
		return fmt.Errorf("failed to destroy console auth tokens: %w", err)
	}
	return requireRow(result, "console auth token", nodeUUID)
}

// ConsoleAuthTokenDestroyExpired purges tokens past their lifetime.
func (s *SQLiteStore) ConsoleAuthTokenDestroyExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM console_auth_tokens WHERE expires_at <= ?`, fmtTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired console auth tokens: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
