package postgres

import (
	"context"
	"time"

	authcore "github.com/Bidiche49/art-des-jardins-sub001"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, password_hash, first_name, last_name, role, active,
	two_factor_secret, two_factor_enabled, recovery_codes, two_factor_attempts,
	two_factor_locked_until, last_login_at`

func scanUser(row pgx.Row) (*authcore.User, error) {
	var (
		u      authcore.User
		secret *string
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role, &u.Active,
		&secret, &u.TwoFactorEnabled, &u.RecoveryCodes, &u.TwoFactorAttempts,
		&u.TwoFactorLockedUntil, &u.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	u.TwoFactorSecret = derefString(secret)
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*authcore.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		return nil, wrap(err, "GetUserByEmail")
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*authcore.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, wrap(err, "GetUserByID")
	}
	return u, nil
}

// execOne runs a single-row update and reports ErrNotFound when no row matched.
func (s *Store) execOne(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return wrap(err, op)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	return s.execOne(ctx, "UpdateLastLogin",
		`UPDATE users SET last_login_at = $2 WHERE id = $1`, userID, at)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return s.execOne(ctx, "UpdatePasswordHash",
		`UPDATE users SET password_hash = $2 WHERE id = $1`, userID, hash)
}

func (s *Store) SaveTwoFactorSecret(ctx context.Context, userID, sealedSecret string) error {
	return s.execOne(ctx, "SaveTwoFactorSecret",
		`UPDATE users SET two_factor_secret = $2, two_factor_enabled = FALSE WHERE id = $1`,
		userID, sealedSecret)
}

func (s *Store) EnableTwoFactor(ctx context.Context, userID string, recoveryHashes []string) error {
	return s.execOne(ctx, "EnableTwoFactor",
		`UPDATE users
		    SET two_factor_enabled = TRUE, recovery_codes = $2,
		        two_factor_attempts = 0, two_factor_locked_until = NULL
		  WHERE id = $1 AND two_factor_secret IS NOT NULL`,
		userID, nonNil(recoveryHashes))
}

func (s *Store) DisableTwoFactor(ctx context.Context, userID string) error {
	return s.execOne(ctx, "DisableTwoFactor",
		`UPDATE users
		    SET two_factor_enabled = FALSE, two_factor_secret = NULL, recovery_codes = '{}',
		        two_factor_attempts = 0, two_factor_locked_until = NULL
		  WHERE id = $1`,
		userID)
}

func (s *Store) ReplaceRecoveryCodes(ctx context.Context, userID string, recoveryHashes []string) error {
	return s.execOne(ctx, "ReplaceRecoveryCodes",
		`UPDATE users SET recovery_codes = $2 WHERE id = $1`, userID, nonNil(recoveryHashes))
}

// ConsumeRecoveryCode removes hash only while it is still in the array, so two
// requests racing on the same code cannot both succeed.
func (s *Store) ConsumeRecoveryCode(ctx context.Context, userID, hash string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET recovery_codes = array_remove(recovery_codes, $2)
		  WHERE id = $1 AND $2 = ANY(recovery_codes)`,
		userID, hash)
	if err != nil {
		return false, wrap(err, "ConsumeRecoveryCode")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) RecordTwoFactorFailure(ctx context.Context, userID string, maxAttempts int, lockedUntil, now time.Time) (int, bool, error) {
	var (
		attempts int
		locked   bool
	)
	err := s.db.QueryRow(ctx,
		`UPDATE users
		    SET two_factor_attempts = CASE
		            WHEN two_factor_locked_until IS NOT NULL AND two_factor_locked_until <= $4::timestamptz THEN 1
		            ELSE two_factor_attempts + 1
		        END,
		        two_factor_locked_until = CASE
		            WHEN two_factor_locked_until IS NOT NULL AND two_factor_locked_until <= $4::timestamptz THEN NULL
		            WHEN two_factor_attempts + 1 >= $2::int THEN $3::timestamptz
		            ELSE two_factor_locked_until
		        END
		  WHERE id = $1
		RETURNING two_factor_attempts, two_factor_locked_until IS NOT NULL AND two_factor_locked_until > $4::timestamptz`,
		userID, maxAttempts, lockedUntil, now,
	).Scan(&attempts, &locked)
	if err != nil {
		return 0, false, wrap(err, "RecordTwoFactorFailure")
	}
	return attempts, locked, nil
}

func (s *Store) ResetTwoFactorFailures(ctx context.Context, userID string) error {
	return s.execOne(ctx, "ResetTwoFactorFailures",
		`UPDATE users SET two_factor_attempts = 0, two_factor_locked_until = NULL WHERE id = $1`, userID)
}

func nonNil(codes []string) []string {
	if codes == nil {
		return []string{}
	}
	return codes
}
