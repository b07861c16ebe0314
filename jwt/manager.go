package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the JWS algorithm used for every token the Manager signs.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Token purposes. A token is only accepted by the parser matching its purpose.
const (
	PurposeAccess       = "access"
	PurposeRefresh      = "refresh"
	PurposeDeviceAction = "device_action"
)

// Device action values carried in DeviceActionClaims.Action.
const (
	ActionTrust  = "trust"
	ActionRevoke = "revoke"
)

var (
	ErrWrongPurpose = errors.New("token purpose mismatch")
	ErrInvalidToken = errors.New("invalid token claims")
)

// Config holds signing keys and validation settings.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
}

// Manager signs and verifies access, refresh and device-action tokens.
type Manager struct {
	config Config
}

// AccessClaims is the payload of a short-lived access token: {sub,email,role,exp}.
type AccessClaims struct {
	Email   string `json:"email"`
	Role    string `json:"role"`
	Purpose string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token: {sub,email,role,familyId,jti,exp}.
type RefreshClaims struct {
	Email    string `json:"email"`
	Role     string `json:"role"`
	FamilyID string `json:"familyId"`
	Purpose  string `json:"typ"`
	jwt.RegisteredClaims
}

// DeviceActionClaims is the payload of the links sent in new-device emails.
type DeviceActionClaims struct {
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
	Action   string `json:"action"`
	Purpose  string `json:"typ"`
	jwt.RegisteredClaims
}

type purposed interface {
	jwt.Claims
	purpose() string
}

func (c *AccessClaims) purpose() string       { return c.Purpose }
func (c *RefreshClaims) purpose() string      { return c.Purpose }
func (c *DeviceActionClaims) purpose() string { return c.Purpose }

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a secret of at least 32 bytes")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) == 0 {
			priv, _ := parseEdPrivateKey(cfg.PrivateKey)
			cfg.PublicKey = priv.Public().(ed25519.PublicKey)
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (j *Manager) AccessTTL() time.Duration {
	return j.config.AccessTTL
}

// CreateAccess signs an access token for the given subject.
func (j *Manager) CreateAccess(sub, email, role string) (string, error) {
	now := time.Now()
	claims := &AccessClaims{
		Email:            email,
		Role:             role,
		Purpose:          PurposeAccess,
		RegisteredClaims: j.registered(sub, "", now, now.Add(j.config.AccessTTL)),
	}
	return j.sign(claims)
}

// CreateRefresh signs a refresh token. jti doubles as the stored row id.
func (j *Manager) CreateRefresh(sub, email, role, familyID, jti string, expiresAt time.Time) (string, error) {
	if jti == "" || familyID == "" {
		return "", errors.New("refresh token requires jti and family id")
	}
	claims := &RefreshClaims{
		Email:            email,
		Role:             role,
		FamilyID:         familyID,
		Purpose:          PurposeRefresh,
		RegisteredClaims: j.registered(sub, jti, time.Now(), expiresAt),
	}
	return j.sign(claims)
}

// CreateDeviceAction signs a self-contained trust/revoke link token.
func (j *Manager) CreateDeviceAction(userID, deviceID, action string, ttl time.Duration) (string, error) {
	if action != ActionTrust && action != ActionRevoke {
		return "", fmt.Errorf("unsupported device action %q", action)
	}
	now := time.Now()
	claims := &DeviceActionClaims{
		UserID:           userID,
		DeviceID:         deviceID,
		Action:           action,
		Purpose:          PurposeDeviceAction,
		RegisteredClaims: j.registered(userID, "", now, now.Add(ttl)),
	}
	return j.sign(claims)
}

// ParseAccess verifies an access token.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := j.parse(tokenStr, claims, PurposeAccess); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token. Stored-row checks are the caller's job.
func (j *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := j.parse(tokenStr, claims, PurposeRefresh); err != nil {
		return nil, err
	}
	if claims.ID == "" || claims.FamilyID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseDeviceAction verifies a device action token.
func (j *Manager) ParseDeviceAction(tokenStr string) (*DeviceActionClaims, error) {
	claims := &DeviceActionClaims{}
	if err := j.parse(tokenStr, claims, PurposeDeviceAction); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.DeviceID == "" {
		return nil, ErrInvalidToken
	}
	if claims.Action != ActionTrust && claims.Action != ActionRevoke {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (j *Manager) registered(sub, jti string, issuedAt, expiresAt time.Time) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		Subject:   sub,
		ID:        jti,
		Issuer:    j.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if j.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{j.config.Audience}
	}
	return rc
}

func (j *Manager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

func (j *Manager) parse(tokenStr string, claims purposed, purpose string) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if j.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != j.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return j.getVerifyKey()
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenInvalidClaims
	}
	if claims.purpose() != purpose {
		return ErrWrongPurpose
	}

	iat, err := claims.GetIssuedAt()
	if err == nil && iat != nil && iat.Time.After(time.Now().Add(j.config.MaxFutureIAT)) {
		return errors.New("token iat too far in the future")
	}
	return nil
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
