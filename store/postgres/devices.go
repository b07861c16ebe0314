package postgres

import (
	"context"
	"time"

	authcore "github.com/Bidiche49/art-des-jardins-sub001"
	"github.com/jackc/pgx/v5"
)

const deviceColumns = `id, user_id, fingerprint, name, last_ip, last_city, last_country,
	first_seen_at, last_seen_at, trusted_at`

func deviceDest(d *authcore.KnownDevice) []any {
	return []any{
		&d.ID, &d.UserID, &d.Fingerprint, &d.Name, &d.LastIP, &d.LastCity, &d.LastCountry,
		&d.FirstSeenAt, &d.LastSeenAt, &d.TrustedAt,
	}
}

// UpsertDevice relies on the (user_id, fingerprint) unique constraint; xmax is
// zero only on the freshly inserted tuple.
func (s *Store) UpsertDevice(ctx context.Context, d *authcore.KnownDevice) (*authcore.KnownDevice, bool, error) {
	var (
		out     authcore.KnownDevice
		created bool
	)
	err := s.db.QueryRow(ctx,
		`INSERT INTO known_devices (`+deviceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL)
		 ON CONFLICT (user_id, fingerprint) DO UPDATE
		    SET last_ip = EXCLUDED.last_ip,
		        last_city = EXCLUDED.last_city,
		        last_country = EXCLUDED.last_country,
		        last_seen_at = EXCLUDED.last_seen_at
		 RETURNING `+deviceColumns+`, (xmax = 0)`,
		d.ID, d.UserID, d.Fingerprint, d.Name, d.LastIP, d.LastCity, d.LastCountry, d.FirstSeenAt, d.LastSeenAt,
	).Scan(append(deviceDest(&out), &created)...)
	if err != nil {
		return nil, false, wrap(err, "UpsertDevice")
	}
	return &out, created, nil
}

func (s *Store) GetDevice(ctx context.Context, id string) (*authcore.KnownDevice, error) {
	var d authcore.KnownDevice
	err := s.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM known_devices WHERE id = $1`, id).Scan(deviceDest(&d)...)
	if err != nil {
		return nil, wrap(err, "GetDevice")
	}
	return &d, nil
}

func (s *Store) ListDevices(ctx context.Context, userID string) ([]authcore.KnownDevice, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+deviceColumns+` FROM known_devices WHERE user_id = $1 ORDER BY last_seen_at DESC`, userID)
	if err != nil {
		return nil, wrap(err, "ListDevices")
	}
	defer rows.Close()

	var out []authcore.KnownDevice
	for rows.Next() {
		var d authcore.KnownDevice
		if err := rows.Scan(deviceDest(&d)...); err != nil {
			return nil, wrap(err, "ListDevices")
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "ListDevices")
	}
	return out, nil
}

func (s *Store) MarkDeviceTrusted(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, "MarkDeviceTrusted",
		`UPDATE known_devices SET trusted_at = COALESCE(trusted_at, $2) WHERE id = $1`, id, at)
}

func (s *Store) DeleteDeviceWithTokens(ctx context.Context, deviceID, userID string, allUserTokens bool, at time.Time) error {
	return s.inTx(ctx, "DeleteDeviceWithTokens", func(tx pgx.Tx) error {
		revoke := `UPDATE refresh_tokens SET revoked_at = $2 WHERE device_id = $1 AND revoked_at IS NULL`
		key := deviceID
		if allUserTokens {
			revoke = `UPDATE refresh_tokens SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`
			key = userID
		}
		if _, err := tx.Exec(ctx, revoke, key, at); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM known_devices WHERE id = $1 AND user_id = $2`, deviceID, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return authcore.ErrNotFound
		}
		return nil
	})
}
