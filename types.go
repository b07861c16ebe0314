package authcore

import (
	"context"
	"time"

	"github.com/Bidiche49/art-des-jardins-sub001/geoip"
	"github.com/Bidiche49/art-des-jardins-sub001/mail"
)

// User is the account record the core reads and mutates.
type User struct {
	ID                   string
	Email                string
	PasswordHash         string
	FirstName            string
	LastName             string
	Role                 string
	Active               bool
	TwoFactorSecret      string
	TwoFactorEnabled     bool
	RecoveryCodes        []string
	TwoFactorAttempts    int
	TwoFactorLockedUntil *time.Time
	LastLoginAt          *time.Time
}

// PublicUser is the part of User returned to clients.
type PublicUser struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	FirstName        string     `json:"firstName,omitempty"`
	LastName         string     `json:"lastName,omitempty"`
	Role             string     `json:"role"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	LastLoginAt      *time.Time `json:"lastLoginAt,omitempty"`
}

// Public strips secrets from u.
func (u *User) Public() *PublicUser {
	if u == nil {
		return nil
	}
	return &PublicUser{
		ID:               u.ID,
		Email:            u.Email,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Role:             u.Role,
		TwoFactorEnabled: u.TwoFactorEnabled,
		LastLoginAt:      u.LastLoginAt,
	}
}

// RefreshToken is one persisted link of a refresh token family.
type RefreshToken struct {
	ID        string
	UserID    string
	Token     string
	DeviceID  string
	FamilyID  string
	UsedAt    *time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// KnownDevice is a (user, fingerprint) pair seen at login.
type KnownDevice struct {
	ID          string     `json:"id"`
	UserID      string     `json:"-"`
	Fingerprint string     `json:"-"`
	Name        string     `json:"name"`
	LastIP      string     `json:"lastIp,omitempty"`
	LastCity    string     `json:"lastCity,omitempty"`
	LastCountry string     `json:"lastCountry,omitempty"`
	FirstSeenAt time.Time  `json:"firstSeenAt"`
	LastSeenAt  time.Time  `json:"lastSeenAt"`
	TrustedAt   *time.Time `json:"trustedAt,omitempty"`
}

// DeviceView is a KnownDevice annotated for the caller listing it.
type DeviceView struct {
	KnownDevice
	Trusted   bool `json:"trusted"`
	IsCurrent bool `json:"isCurrent"`
}

// DeviceRegistration is the outcome of RegisterDevice.
type DeviceRegistration struct {
	Device *KnownDevice
	IsNew  bool
}

// WebAuthnCredential is a registered passkey.
type WebAuthnCredential struct {
	ID              string     `json:"id"`
	UserID          string     `json:"-"`
	CredentialID    []byte     `json:"-"`
	PublicKey       []byte     `json:"-"`
	AttestationType string     `json:"-"`
	AAGUID          []byte     `json:"-"`
	SignCount       uint32     `json:"-"`
	DeviceName      string     `json:"deviceName"`
	DeviceType      string     `json:"deviceType"`
	Transports      []string   `json:"transports,omitempty"`
	BackupEligible  bool       `json:"backupEligible"`
	BackupState     bool       `json:"backupState"`
	LastUsedAt      *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// TokenPair is an access token with its refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// LoginResult is either a full session or the 2FA branch.
type LoginResult struct {
	User         *PublicUser `json:"user,omitempty"`
	AccessToken  string      `json:"accessToken,omitempty"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	Requires2FA  bool        `json:"requires2FA,omitempty"`
	UserID       string      `json:"userId,omitempty"`
	DeviceID     string      `json:"-"`
	NewDevice    bool        `json:"-"`
}

// TwoFactorSetup is returned once by SetupTwoFactor.
type TwoFactorSetup struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthUrl"`
	QRCode     string `json:"qrCode"`
}

// TwoFactorConfirmation is the outcome of VerifyTwoFactorSetup.
type TwoFactorConfirmation struct {
	Success       bool     `json:"success"`
	RecoveryCodes []string `json:"recoveryCodes,omitempty"`
}

// TwoFactorStatus summarizes a user's second factor.
type TwoFactorStatus struct {
	Enabled                bool       `json:"enabled"`
	Pending                bool       `json:"pending"`
	Required               bool       `json:"required"`
	RemainingRecoveryCodes int        `json:"remainingRecoveryCodes"`
	LockedUntil            *time.Time `json:"lockedUntil,omitempty"`
}

// UserStore persists accounts.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error

	// SaveTwoFactorSecret stores a pending (not enabled) sealed secret.
	SaveTwoFactorSecret(ctx context.Context, userID, sealedSecret string) error
	// EnableTwoFactor flips the flag, stores recovery hashes and clears counters.
	EnableTwoFactor(ctx context.Context, userID string, recoveryHashes []string) error
	// DisableTwoFactor clears the secret, the codes and the counters.
	DisableTwoFactor(ctx context.Context, userID string) error
	ReplaceRecoveryCodes(ctx context.Context, userID string, recoveryHashes []string) error
	// ConsumeRecoveryCode removes hash only if still present; false means it was already used.
	ConsumeRecoveryCode(ctx context.Context, userID, hash string) (bool, error)
	// RecordTwoFactorFailure increments the attempt counter atomically and sets
	// lockedUntil once the counter reaches maxAttempts. A counter whose lock
	// has expired restarts at one.
	RecordTwoFactorFailure(ctx context.Context, userID string, maxAttempts int, lockedUntil, now time.Time) (attempts int, locked bool, err error)
	ResetTwoFactorFailures(ctx context.Context, userID string) error
}

// RefreshTokenStore persists refresh token families.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error
	GetRefreshToken(ctx context.Context, id string) (*RefreshToken, error)
	// RotateRefreshToken marks usedID used only if it is unused and unrevoked,
	// and inserts child in the same transaction. false means no row matched.
	RotateRefreshToken(ctx context.Context, usedID string, usedAt time.Time, child *RefreshToken) (bool, error)
	RevokeRefreshToken(ctx context.Context, id string, at time.Time) (bool, error)
	RevokeTokenFamily(ctx context.Context, familyID string, at time.Time) (int64, error)
	RevokeAllUserTokens(ctx context.Context, userID string, at time.Time) (int64, error)
	DeleteExpiredRefreshTokens(ctx context.Context, now, revokedBefore time.Time) (int64, error)
}

// DeviceStore persists known devices.
type DeviceStore interface {
	// UpsertDevice inserts d or refreshes the last-seen fields of the existing
	// (userID, fingerprint) row, returning the stored row and whether it was created.
	UpsertDevice(ctx context.Context, d *KnownDevice) (*KnownDevice, bool, error)
	GetDevice(ctx context.Context, id string) (*KnownDevice, error)
	ListDevices(ctx context.Context, userID string) ([]KnownDevice, error)
	MarkDeviceTrusted(ctx context.Context, id string, at time.Time) error
	// DeleteDeviceWithTokens deletes the device and, in the same transaction,
	// revokes every refresh token of the user (allUserTokens) or only the
	// tokens bound to the device.
	DeleteDeviceWithTokens(ctx context.Context, deviceID, userID string, allUserTokens bool, at time.Time) error
}

// CredentialStore persists WebAuthn credentials.
type CredentialStore interface {
	ListCredentials(ctx context.Context, userID string) ([]WebAuthnCredential, error)
	GetCredentialByCredentialID(ctx context.Context, credentialID []byte) (*WebAuthnCredential, error)
	CreateCredential(ctx context.Context, c *WebAuthnCredential) error
	UpdateCredentialUsage(ctx context.Context, id string, signCount uint32, backupState bool, usedAt time.Time) error
	DeleteCredential(ctx context.Context, id, userID string) (bool, error)
}

// Store is the full persistence surface.
type Store interface {
	UserStore
	RefreshTokenStore
	DeviceStore
	CredentialStore
}

//go:generate mockgen -destination=internal/mocks/mocks.go -package=mocks . MailSender,GeoResolver

// MailSender delivers rendered security alerts.
type MailSender interface {
	Send(ctx context.Context, msg mail.Message) error
}

// GeoResolver resolves an IP to a location, returning nil when it cannot.
type GeoResolver interface {
	Lookup(ctx context.Context, ip string) *geoip.Location
}
