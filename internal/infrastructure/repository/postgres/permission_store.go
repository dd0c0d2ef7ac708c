package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/xpense/internal/infrastructure/resilience"
)

type PermissionStore struct {
	db *sql.DB
}

func NewPermissionStore(db *sql.DB) *PermissionStore {
	return &PermissionStore{db: db}
}

func (s *PermissionStore) PermissionsFor(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT permission FROM user_permissions WHERE user_id = $1 ORDER BY permission
`, userID)
	if err != nil {
		return nil, resilience.WrapTemporary("list permissions", fmt.Errorf("list permissions: %w", err), classifyPostgresError)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}
	return out, nil
}
