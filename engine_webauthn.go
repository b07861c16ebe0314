package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Bidiche49/art-des-jardins-sub001/cache"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

const (
	registrationChallengePrefix   = "reg:"
	authenticationChallengePrefix = "auth:"

	deviceTypeSingle = "singleDevice"
	deviceTypeMulti  = "multiDevice"
)

// challengeEntry is what a ceremony start leaves in the TTL store. The
// relying party is kept so the finish step verifies against the same values.
type challengeEntry struct {
	Session webauthn.SessionData `json:"session"`
	RPID    string               `json:"rpId"`
	Origin  string               `json:"origin"`
	UserID  string               `json:"userId,omitempty"`
}

// webauthnUser adapts a User and its credentials to webauthn.User.
type webauthnUser struct {
	user  *User
	creds []WebAuthnCredential
}

func (u *webauthnUser) WebAuthnID() []byte { return []byte(u.user.ID) }

func (u *webauthnUser) WebAuthnName() string { return u.user.Email }

func (u *webauthnUser) WebAuthnDisplayName() string {
	name := strings.TrimSpace(u.user.FirstName + " " + u.user.LastName)
	if name == "" {
		return u.user.Email
	}
	return name
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(u.creds))
	for _, c := range u.creds {
		out = append(out, toLibraryCredential(c))
	}
	return out
}

func toLibraryCredential(c WebAuthnCredential) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, t := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:              c.CredentialID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    true,
			UserVerified:   true,
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignCount,
		},
	}
}

// relyingParty picks the rpID and origin of a ceremony. Outside production
// mode the request origin wins so local frontends on any port work.
func (e *Engine) relyingParty(ctx context.Context) (rpID, origin string) {
	rpID, origin = e.config.WebAuthn.RPID, e.config.WebAuthn.RPOrigin
	if e.config.Security.ProductionMode {
		return rpID, origin
	}
	reqOrigin := requestOriginFromContext(ctx)
	if reqOrigin == "" {
		return rpID, origin
	}
	u, err := url.Parse(reqOrigin)
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return rpID, origin
	}
	return u.Hostname(), u.Scheme + "://" + u.Host
}

func (e *Engine) webauthnFor(rpID, origin string) (*webauthn.WebAuthn, error) {
	return webauthn.New(&webauthn.Config{
		RPID:          rpID,
		RPDisplayName: e.config.WebAuthn.RPDisplayName,
		RPOrigins:     []string{origin},
	})
}

func (e *Engine) loadWebAuthnUser(ctx context.Context, userID string) (*webauthnUser, error) {
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	creds, err := e.store.ListCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &webauthnUser{user: user, creds: creds}, nil
}

func (e *Engine) saveChallenge(ctx context.Context, key string, entry challengeEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return e.challenges.Set(ctx, key, raw, e.config.WebAuthn.ChallengeTTL)
}

func (e *Engine) takeChallenge(ctx context.Context, key string) (*challengeEntry, error) {
	raw, err := e.challenges.Take(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, ErrChallengeExpired
		}
		return nil, err
	}
	var entry challengeEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, ErrChallengeExpired
	}
	return &entry, nil
}

// BeginWebAuthnRegistration returns creation options for a new passkey.
// Credentials the user already owns are excluded.
func (e *Engine) BeginWebAuthnRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	wu, err := e.loadWebAuthnUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(wu.creds))
	for _, c := range wu.WebAuthnCredentials() {
		exclusions = append(exclusions, c.Descriptor())
	}

	rpID, origin := e.relyingParty(ctx)
	w, err := e.webauthnFor(rpID, origin)
	if err != nil {
		return nil, fmt.Errorf("webauthn config: %w", err)
	}
	options, session, err := w.BeginRegistration(wu,
		webauthn.WithExclusions(exclusions),
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementPreferred),
	)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}

	entry := challengeEntry{Session: *session, RPID: rpID, Origin: origin, UserID: userID}
	if err := e.saveChallenge(ctx, registrationChallengePrefix+userID, entry); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	return options, nil
}

// FinishWebAuthnRegistration verifies an attestation response and stores
// the new credential. deviceName defaults to a label derived from the
// User-Agent.
func (e *Engine) FinishWebAuthnRegistration(ctx context.Context, userID string, response []byte, deviceName string) (*WebAuthnCredential, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	entry, err := e.takeChallenge(ctx, registrationChallengePrefix+userID)
	if err != nil {
		e.registrationFailed(ctx, userID, err, "challenge")
		return nil, err
	}

	wu, err := e.loadWebAuthnUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		e.registrationFailed(ctx, userID, ErrVerificationFailed, "parse")
		return nil, ErrVerificationFailed
	}
	w, err := e.webauthnFor(entry.RPID, entry.Origin)
	if err != nil {
		return nil, fmt.Errorf("webauthn config: %w", err)
	}
	cred, err := w.CreateCredential(wu, entry.Session, parsed)
	if err != nil {
		e.registrationFailed(ctx, userID, ErrVerificationFailed, "attestation")
		return nil, ErrVerificationFailed
	}

	if strings.TrimSpace(deviceName) == "" {
		deviceName = describeUserAgent(userAgentFromContext(ctx))
	}
	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	deviceType := deviceTypeSingle
	if cred.Flags.BackupEligible {
		deviceType = deviceTypeMulti
	}

	stored := &WebAuthnCredential{
		ID:              uuid.NewString(),
		UserID:          userID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		DeviceName:      deviceName,
		DeviceType:      deviceType,
		Transports:      transports,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
		CreatedAt:       e.clock(),
	}
	if err := e.store.CreateCredential(ctx, stored); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}

	e.metricInc(MetricWebAuthnRegistered)
	e.emitAudit(ctx, auditEventWebAuthnRegistered, true, userID, nil, func() map[string]string {
		return map[string]string{"credential_id": stored.ID, "device_type": deviceType}
	})
	return stored, nil
}

func (e *Engine) registrationFailed(ctx context.Context, userID string, err error, stage string) {
	e.metricInc(MetricWebAuthnRegistrationFailure)
	e.emitAudit(ctx, auditEventWebAuthnRegisterFailure, false, userID, err, func() map[string]string {
		return map[string]string{"stage": stage}
	})
}

// BeginWebAuthnLogin returns assertion options. With an email the options
// are restricted to that user's credentials and ErrNoPasskeys is returned,
// before any challenge is stored, when there are none. Without an email the
// options allow discoverable login.
func (e *Engine) BeginWebAuthnLogin(ctx context.Context, email string) (*protocol.CredentialAssertion, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	rpID, origin := e.relyingParty(ctx)
	w, err := e.webauthnFor(rpID, origin)
	if err != nil {
		return nil, fmt.Errorf("webauthn config: %w", err)
	}

	entry := challengeEntry{RPID: rpID, Origin: origin}
	var (
		options *protocol.CredentialAssertion
		session *webauthn.SessionData
	)

	email = strings.ToLower(strings.TrimSpace(email))
	if email != "" {
		user, err := e.store.GetUserByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrNoPasskeys
			}
			return nil, fmt.Errorf("load user: %w", err)
		}
		if !user.Active {
			return nil, ErrNoPasskeys
		}
		creds, err := e.store.ListCredentials(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
		if len(creds) == 0 {
			return nil, ErrNoPasskeys
		}
		options, session, err = w.BeginLogin(&webauthnUser{user: user, creds: creds})
		if err != nil {
			return nil, fmt.Errorf("begin login: %w", err)
		}
		entry.UserID = user.ID
	} else {
		options, session, err = w.BeginDiscoverableLogin()
		if err != nil {
			return nil, fmt.Errorf("begin discoverable login: %w", err)
		}
	}

	entry.Session = *session
	if err := e.saveChallenge(ctx, authenticationChallengePrefix+session.Challenge, entry); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	return options, nil
}

// FinishWebAuthnLogin verifies an assertion and returns the authenticated
// user id. Every failure is reported as ErrUnauthorized; the reason only
// goes to the audit log.
func (e *Engine) FinishWebAuthnLogin(ctx context.Context, response []byte) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	userID, reason, err := e.finishWebAuthnLogin(ctx, response)
	if err != nil || reason != "" {
		if err != nil {
			e.logger.Warn("webauthn login failed", "reason", reason, "err", err)
		}
		e.metricInc(MetricWebAuthnLoginFailure)
		e.emitAudit(ctx, auditEventWebAuthnLoginFailure, false, userID, ErrUnauthorized, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return "", ErrUnauthorized
	}
	e.metricInc(MetricWebAuthnLoginSuccess)
	e.emitAudit(ctx, auditEventWebAuthnLoginSuccess, true, userID, nil, nil)
	return userID, nil
}

// finishWebAuthnLogin returns a non-empty reason for any rejection. err is
// set only for backend failures worth logging.
func (e *Engine) finishWebAuthnLogin(ctx context.Context, response []byte) (userID, reason string, err error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return "", "parse", nil
	}

	entry, err := e.takeChallenge(ctx, authenticationChallengePrefix+parsed.Response.CollectedClientData.Challenge)
	if err != nil {
		if errors.Is(err, ErrChallengeExpired) {
			return "", "challenge", nil
		}
		return "", "challenge", err
	}

	stored, err := e.store.GetCredentialByCredentialID(ctx, parsed.RawID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", "unknown_credential", nil
		}
		return "", "credential", err
	}
	if entry.UserID != "" && entry.UserID != stored.UserID {
		return stored.UserID, "user_mismatch", nil
	}

	wu, err := e.loadWebAuthnUser(ctx, stored.UserID)
	if err != nil {
		return stored.UserID, "user", err
	}
	if !wu.user.Active {
		return stored.UserID, "inactive", nil
	}

	w, err := e.webauthnFor(entry.RPID, entry.Origin)
	if err != nil {
		return stored.UserID, "config", err
	}

	var cred *webauthn.Credential
	if entry.UserID != "" {
		cred, err = w.ValidateLogin(wu, entry.Session, parsed)
	} else {
		cred, err = w.ValidateDiscoverableLogin(func(rawID, userHandle []byte) (webauthn.User, error) {
			if string(userHandle) != wu.user.ID {
				return nil, errors.New("user handle does not match credential owner")
			}
			return wu, nil
		}, entry.Session, parsed)
	}
	if err != nil {
		return stored.UserID, "assertion", nil
	}

	newCount := cred.Authenticator.SignCount
	if signCountRegressed(stored.SignCount, newCount, cred.Authenticator.CloneWarning) {
		e.metricInc(MetricWebAuthnCloneDetected)
		return stored.UserID, "counter", nil
	}

	if err := e.store.UpdateCredentialUsage(ctx, stored.ID, newCount, cred.Flags.BackupState, e.clock()); err != nil {
		return stored.UserID, "persist", err
	}
	return stored.UserID, "", nil
}

// signCountRegressed reports a possibly cloned authenticator. Authenticators
// that never count keep both values at zero.
func signCountRegressed(stored, presented uint32, cloneWarning bool) bool {
	if cloneWarning {
		return true
	}
	if stored == 0 && presented == 0 {
		return false
	}
	return presented <= stored
}

// CompleteWebAuthnLogin verifies an assertion and issues a token pair, going
// through the same device registration as a password login.
func (e *Engine) CompleteWebAuthnLogin(ctx context.Context, response []byte) (*LoginResult, error) {
	userID, err := e.FinishWebAuthnLogin(ctx, response)
	if err != nil {
		return nil, err
	}
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return e.completeLogin(ctx, user, "webauthn")
}

func (e *Engine) ListWebAuthnCredentials(ctx context.Context, userID string) ([]WebAuthnCredential, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	creds, err := e.store.ListCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return creds, nil
}

// DeleteWebAuthnCredential removes one of the user's credentials.
func (e *Engine) DeleteWebAuthnCredential(ctx context.Context, userID, id string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	deleted, err := e.store.DeleteCredential(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if !deleted {
		return ErrCredentialNotFound
	}
	e.emitAudit(ctx, auditEventWebAuthnCredentialDelete, true, userID, nil, func() map[string]string {
		return map[string]string{"credential_id": id}
	})
	return nil
}
