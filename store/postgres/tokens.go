package postgres

import (
	"context"
	"time"

	authcore "github.com/Bidiche49/art-des-jardins-sub001"
	"github.com/jackc/pgx/v5"
)

const tokenColumns = `id, user_id, token, device_id, family_id, used_at, expires_at, revoked_at, created_at`

const insertToken = `INSERT INTO refresh_tokens (` + tokenColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func tokenArgs(t *authcore.RefreshToken) []any {
	return []any{t.ID, t.UserID, t.Token, nullString(t.DeviceID), t.FamilyID, t.UsedAt, t.ExpiresAt, t.RevokedAt, t.CreatedAt}
}

func (s *Store) CreateRefreshToken(ctx context.Context, token *authcore.RefreshToken) error {
	if _, err := s.db.Exec(ctx, insertToken, tokenArgs(token)...); err != nil {
		return wrap(err, "CreateRefreshToken")
	}
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, id string) (*authcore.RefreshToken, error) {
	var (
		t        authcore.RefreshToken
		deviceID *string
	)
	err := s.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE id = $1`, id).Scan(
		&t.ID, &t.UserID, &t.Token, &deviceID, &t.FamilyID, &t.UsedAt, &t.ExpiresAt, &t.RevokedAt, &t.CreatedAt,
	)
	if err != nil {
		return nil, wrap(err, "GetRefreshToken")
	}
	t.DeviceID = derefString(deviceID)
	return &t, nil
}

// RotateRefreshToken is the compare-and-set at the heart of rotation: only the
// request whose UPDATE matches the unused row gets to insert the child.
func (s *Store) RotateRefreshToken(ctx context.Context, usedID string, usedAt time.Time, child *authcore.RefreshToken) (bool, error) {
	var won bool
	err := s.inTx(ctx, "RotateRefreshToken", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE refresh_tokens SET used_at = $2
			  WHERE id = $1 AND used_at IS NULL AND revoked_at IS NULL`,
			usedID, usedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return nil
		}
		if _, err := tx.Exec(ctx, insertToken, tokenArgs(child)...); err != nil {
			return err
		}
		won = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := s.revoke(ctx, "RevokeRefreshToken", `id = $1`, id, at)
	return n == 1, err
}

func (s *Store) RevokeTokenFamily(ctx context.Context, familyID string, at time.Time) (int64, error) {
	return s.revoke(ctx, "RevokeTokenFamily", `family_id = $1`, familyID, at)
}

func (s *Store) RevokeAllUserTokens(ctx context.Context, userID string, at time.Time) (int64, error) {
	return s.revoke(ctx, "RevokeAllUserTokens", `user_id = $1`, userID, at)
}

// revoke stamps revoked_at on the live rows matching where; already revoked
// rows keep their original timestamp.
func (s *Store) revoke(ctx context.Context, op, where, arg string, at time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2 WHERE `+where+` AND revoked_at IS NULL`, arg, at)
	if err != nil {
		return 0, wrap(err, op)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now, revokedBefore time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= $1 OR revoked_at < $2`, now, revokedBefore)
	if err != nil {
		return 0, wrap(err, "DeleteExpiredRefreshTokens")
	}
	return tag.RowsAffected(), nil
}
