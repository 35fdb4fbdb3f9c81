package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mind-engage/lti-tool/pkg/tool/keyset"
)

// KeyStorage persists tool keys in the tool_keys table. The public JWK
// lands there through the keyset.Storage hook on every Add; the private
// PEM is written separately by the admin layer so the key-management
// core never handles persistence of private material itself.
type KeyStorage struct {
	DB *sql.DB
}

func NewKeyStorage(db *sql.DB) *KeyStorage { return &KeyStorage{DB: db} }

// Save upserts the public export. Satisfies keyset.Storage.
func (s *KeyStorage) Save(ctx context.Context, r keyset.Record) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tool_keys (kid, public_jwk, created_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (kid) DO UPDATE SET public_jwk=excluded.public_jwk`,
		r.KID, string(r.PublicJWK), r.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("db: save tool key %s: %w", r.KID, err)
	}
	return nil
}

// SavePrivate attaches the private PEM to an already-saved key.
func (s *KeyStorage) SavePrivate(ctx context.Context, kid, privatePEM string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE tool_keys SET private_pem=$1 WHERE kid=$2`, privatePEM, kid)
	if err != nil {
		return fmt.Errorf("db: save private pem for %s: %w", kid, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("db: no tool key %s", kid)
	}
	return err
}

// ToolKeyRow is one persisted key, private PEM included.
type ToolKeyRow struct {
	KID        string
	PrivatePEM string
	PublicJWK  string
	CreatedAt  time.Time
}

// LoadAll returns keys oldest-first so replaying them through
// KeyStore.Add leaves the newest as current.
func (s *KeyStorage) LoadAll(ctx context.Context) ([]ToolKeyRow, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT kid, private_pem, public_jwk, created_at
		FROM tool_keys ORDER BY created_at ASC, kid ASC`)
	if err != nil {
		return nil, fmt.Errorf("db: load tool keys: %w", err)
	}
	defer rows.Close()

	var out []ToolKeyRow
	for rows.Next() {
		var row ToolKeyRow
		var createdAt int64
		if err := rows.Scan(&row.KID, &row.PrivatePEM, &row.PublicJWK, &createdAt); err != nil {
			return nil, fmt.Errorf("db: scan tool key: %w", err)
		}
		row.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}
