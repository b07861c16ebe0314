package postgres

import (
	"context"
	"time"

	authcore "github.com/Bidiche49/art-des-jardins-sub001"
	"github.com/jackc/pgx/v5"
)

const credentialColumns = `id, user_id, credential_id, public_key, attestation_type, aaguid, sign_count,
	device_name, device_type, transports, backup_eligible, backup_state, last_used_at, created_at`

func scanCredential(row pgx.Row) (*authcore.WebAuthnCredential, error) {
	var (
		c         authcore.WebAuthnCredential
		signCount int64
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.CredentialID, &c.PublicKey, &c.AttestationType, &c.AAGUID, &signCount,
		&c.DeviceName, &c.DeviceType, &c.Transports, &c.BackupEligible, &c.BackupState, &c.LastUsedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.SignCount = uint32(signCount)
	return &c, nil
}

func (s *Store) ListCredentials(ctx context.Context, userID string) ([]authcore.WebAuthnCredential, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+credentialColumns+` FROM webauthn_credentials WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, wrap(err, "ListCredentials")
	}
	defer rows.Close()

	var out []authcore.WebAuthnCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, wrap(err, "ListCredentials")
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "ListCredentials")
	}
	return out, nil
}

func (s *Store) GetCredentialByCredentialID(ctx context.Context, credentialID []byte) (*authcore.WebAuthnCredential, error) {
	c, err := scanCredential(s.db.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM webauthn_credentials WHERE credential_id = $1`, credentialID))
	if err != nil {
		return nil, wrap(err, "GetCredentialByCredentialID")
	}
	return c, nil
}

func (s *Store) CreateCredential(ctx context.Context, c *authcore.WebAuthnCredential) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO webauthn_credentials (`+credentialColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.UserID, c.CredentialID, c.PublicKey, c.AttestationType, c.AAGUID, int64(c.SignCount),
		c.DeviceName, c.DeviceType, nonNil(c.Transports), c.BackupEligible, c.BackupState, c.LastUsedAt, c.CreatedAt,
	)
	return wrap(err, "CreateCredential")
}

func (s *Store) UpdateCredentialUsage(ctx context.Context, id string, signCount uint32, backupState bool, usedAt time.Time) error {
	return s.execOne(ctx, "UpdateCredentialUsage",
		`UPDATE webauthn_credentials SET sign_count = $2, backup_state = $3, last_used_at = $4 WHERE id = $1`,
		id, int64(signCount), backupState, usedAt)
}

func (s *Store) DeleteCredential(ctx context.Context, id, userID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM webauthn_credentials WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, wrap(err, "DeleteCredential")
	}
	return tag.RowsAffected() == 1, nil
}
