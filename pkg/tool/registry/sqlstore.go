// pkg/tool/registry/sqlstore.go
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SQLStore persists platforms in the lti_platforms table. Works with
// sqlite (modernc.org/sqlite) and postgres (pgx stdlib); import the
// driver in your main package.
type SQLStore struct {
	DB *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{DB: db} }

func (s *SQLStore) Create(ctx context.Context, p Platform) (Platform, error) {
	claim, err := marshalClaim(p.PlatformClaim)
	if err != nil {
		return Platform{}, err
	}
	err = s.DB.QueryRowContext(ctx, `
		INSERT INTO lti_platforms (issuer, deployment_id, client_id, auth_req_url, pub_key_url, access_token_url, key_kid, platform_claim)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id`,
		p.Issuer, p.DeploymentID, p.ClientID, p.AuthReqURL, p.PubKeyURL, p.AccessTokenURL, p.KeyKID, claim).
		Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Platform{}, ErrDuplicatePlatform
		}
		return Platform{}, fmt.Errorf("registry: create platform: %w", err)
	}
	return p, nil
}

func (s *SQLStore) Update(ctx context.Context, p Platform) error {
	claim, err := marshalClaim(p.PlatformClaim)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE lti_platforms
		   SET issuer=$1, deployment_id=$2, client_id=$3,
		       auth_req_url=$4, pub_key_url=$5, access_token_url=$6,
		       key_kid=$7, platform_claim=$8
		 WHERE id=$9`,
		p.Issuer, p.DeploymentID, p.ClientID, p.AuthReqURL, p.PubKeyURL, p.AccessTokenURL, p.KeyKID, claim, p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePlatform
		}
		return fmt.Errorf("registry: update platform: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) GetByID(ctx context.Context, id int64) (Platform, error) {
	return s.get(ctx, `WHERE id=$1`, id)
}

func (s *SQLStore) GetByIssuerDeployment(ctx context.Context, issuer, deploymentID string) (Platform, error) {
	return s.get(ctx, `WHERE issuer=$1 AND deployment_id=$2`, issuer, deploymentID)
}

func (s *SQLStore) get(ctx context.Context, where string, args ...any) (Platform, error) {
	var (
		p     Platform
		claim []byte
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, issuer, deployment_id, client_id, auth_req_url, pub_key_url, access_token_url, key_kid, platform_claim
		FROM lti_platforms `+where, args...).
		Scan(&p.ID, &p.Issuer, &p.DeploymentID, &p.ClientID, &p.AuthReqURL, &p.PubKeyURL, &p.AccessTokenURL, &p.KeyKID, &claim)
	if errors.Is(err, sql.ErrNoRows) {
		return Platform{}, ErrUnknownPlatform
	}
	if err != nil {
		return Platform{}, fmt.Errorf("registry: get platform: %w", err)
	}
	if len(claim) > 0 {
		_ = json.Unmarshal(claim, &p.PlatformClaim)
	}
	return p, nil
}

func (s *SQLStore) List(ctx context.Context) ([]Platform, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, issuer, deployment_id, client_id, auth_req_url, pub_key_url, access_token_url, key_kid, platform_claim
		FROM lti_platforms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("registry: list platforms: %w", err)
	}
	defer rows.Close()

	var out []Platform
	for rows.Next() {
		var (
			p     Platform
			claim []byte
		)
		if err := rows.Scan(&p.ID, &p.Issuer, &p.DeploymentID, &p.ClientID, &p.AuthReqURL, &p.PubKeyURL, &p.AccessTokenURL, &p.KeyKID, &claim); err != nil {
			return nil, fmt.Errorf("registry: scan platform: %w", err)
		}
		if len(claim) > 0 {
			_ = json.Unmarshal(claim, &p.PlatformClaim)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM lti_platforms WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("registry: delete platform: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) UpdateClaim(ctx context.Context, id int64, claim map[string]any) error {
	blob, err := marshalClaim(claim)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE lti_platforms SET platform_claim=$1 WHERE id=$2`, blob, id)
	if err != nil {
		return fmt.Errorf("registry: update platform claim: %w", err)
	}
	return requireRow(res)
}

func marshalClaim(claim map[string]any) ([]byte, error) {
	if claim == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(claim)
	if err != nil {
		return nil, fmt.Errorf("registry: marshal platform claim: %w", err)
	}
	return b, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUnknownPlatform
	}
	return nil
}

// isUniqueViolation matches the constraint failure text of both drivers
// without importing driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
