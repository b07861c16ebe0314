package httpapi

import (
	"context"

	authcore "github.com/Bidiche49/art-des-jardins-sub001"
	"github.com/Bidiche49/art-des-jardins-sub001/jwt"
	"github.com/go-webauthn/webauthn/protocol"
)

// Service is the engine surface the handlers call. *authcore.Engine implements it.
type Service interface {
	Login(ctx context.Context, in authcore.LoginInput) (*authcore.LoginResult, error)
	RotateRefreshToken(ctx context.Context, refreshToken string) (*authcore.TokenPair, error)
	Logout(ctx context.Context, userID string) error
	ValidateAccessToken(ctx context.Context, token string) (*jwt.AccessClaims, error)

	TwoFactorStatus(ctx context.Context, userID string) (*authcore.TwoFactorStatus, error)
	SetupTwoFactor(ctx context.Context, userID string) (*authcore.TwoFactorSetup, error)
	VerifyTwoFactorSetup(ctx context.Context, userID, code string) (*authcore.TwoFactorConfirmation, error)
	DisableTwoFactor(ctx context.Context, userID, code string) error
	RegenerateRecoveryCodes(ctx context.Context, userID, code string) ([]string, error)

	ListDevices(ctx context.Context, userID, currentFingerprint string) ([]authcore.DeviceView, error)
	TrustDevice(ctx context.Context, deviceID, userID string) error
	RevokeDevice(ctx context.Context, userID, deviceID, currentFingerprint string) error
	RevokeDeviceAndSessions(ctx context.Context, deviceID, userID string) error
	ValidateDeviceActionToken(token string) *jwt.DeviceActionClaims

	BeginWebAuthnRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, error)
	FinishWebAuthnRegistration(ctx context.Context, userID string, response []byte, deviceName string) (*authcore.WebAuthnCredential, error)
	BeginWebAuthnLogin(ctx context.Context, email string) (*protocol.CredentialAssertion, error)
	CompleteWebAuthnLogin(ctx context.Context, response []byte) (*authcore.LoginResult, error)
	ListWebAuthnCredentials(ctx context.Context, userID string) ([]authcore.WebAuthnCredential, error)
	DeleteWebAuthnCredential(ctx context.Context, userID, id string) error
}

var _ Service = (*authcore.Engine)(nil)
