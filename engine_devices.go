package authcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Bidiche49/art-des-jardins-sub001/jwt"
	"github.com/Bidiche49/art-des-jardins-sub001/mail"
	"github.com/google/uuid"
)

const defaultAcceptLanguage = "unknown"

// GenerateFingerprint returns the hex SHA-256 of "userAgent|acceptLanguage".
// An empty language is replaced by "unknown".
func GenerateFingerprint(userAgent, acceptLanguage string) string {
	if acceptLanguage == "" {
		acceptLanguage = defaultAcceptLanguage
	}
	sum := sha256.Sum256([]byte(userAgent + "|" + acceptLanguage))
	return hex.EncodeToString(sum[:])
}

// RegisterDevice records the (user, fingerprint) pair, refreshing last-seen
// fields of a known device. GeoIP failures only leave the location empty.
func (e *Engine) RegisterDevice(ctx context.Context, userID, userAgent, ip, acceptLanguage string) (*DeviceRegistration, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	now := e.clock()
	d := &KnownDevice{
		ID:          uuid.NewString(),
		UserID:      userID,
		Fingerprint: GenerateFingerprint(userAgent, acceptLanguage),
		Name:        describeUserAgent(userAgent),
		LastIP:      ip,
		FirstSeenAt: now,
		LastSeenAt:  now,
	}
	if e.geo != nil && ip != "" {
		if loc := e.geo.Lookup(ctx, ip); loc != nil {
			d.LastCity = loc.City
			d.LastCountry = loc.Country
		}
	}

	stored, created, err := e.store.UpsertDevice(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("upsert device: %w", err)
	}
	if created {
		e.metricInc(MetricDeviceNew)
		e.emitAudit(ctx, auditEventNewDevice, true, userID, nil, func() map[string]string {
			return map[string]string{
				"device_id": stored.ID,
				"name":      stored.Name,
				"country":   stored.LastCountry,
			}
		})
	}
	return &DeviceRegistration{Device: stored, IsNew: created}, nil
}

// GenerateDeviceActionToken signs a trust or revoke link token.
func (e *Engine) GenerateDeviceActionToken(userID, deviceID, action string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	return e.jwtManager.CreateDeviceAction(userID, deviceID, action, e.config.Devices.ActionTokenTTL)
}

// ValidateDeviceActionToken returns the claims of a valid token, or nil.
func (e *Engine) ValidateDeviceActionToken(token string) *jwt.DeviceActionClaims {
	if !e.ready() || token == "" {
		return nil
	}
	claims, err := e.jwtManager.ParseDeviceAction(token)
	if err != nil {
		return nil
	}
	return claims
}

// SendNewDeviceAlert emails the owner trust and revoke links for device.
// It reports whether the message was handed to the mailer.
func (e *Engine) SendNewDeviceAlert(ctx context.Context, userID string, device *KnownDevice) bool {
	if !e.ready() || e.mailer == nil || device == nil {
		return false
	}
	base := strings.TrimRight(e.config.Devices.ActionBaseURL, "/")
	if base == "" {
		e.logger.Warn("new device alert skipped: no action base url", "user_id", userID)
		return false
	}
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		e.logger.Warn("new device alert: load user failed", "user_id", userID, "err", err)
		return false
	}

	trust, err := e.GenerateDeviceActionToken(userID, device.ID, jwt.ActionTrust)
	if err != nil {
		return false
	}
	revoke, err := e.GenerateDeviceActionToken(userID, device.ID, jwt.ActionRevoke)
	if err != nil {
		return false
	}

	msg, err := mail.RenderNewDeviceAlert(mail.NewDeviceAlert{
		AppName:    e.config.Devices.AppName,
		To:         user.Email,
		FirstName:  user.FirstName,
		DeviceName: device.Name,
		IP:         device.LastIP,
		City:       device.LastCity,
		Country:    device.LastCountry,
		SeenAt:     device.LastSeenAt,
		TrustURL:   base + "/trust?token=" + url.QueryEscape(trust),
		RevokeURL:  base + "/revoke?token=" + url.QueryEscape(revoke),
	})
	if err != nil {
		e.logger.Error("render new device alert failed", "err", err)
		return false
	}
	return e.deliver(ctx, userID, msg, "new_device")
}

// SendReplayAlert tells the owner that a session family was revoked after a
// refresh token was reused.
func (e *Engine) SendReplayAlert(ctx context.Context, userID, ip string) bool {
	if !e.ready() || e.mailer == nil || userID == "" {
		return false
	}
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		e.logger.Warn("replay alert: load user failed", "user_id", userID, "err", err)
		return false
	}
	msg, err := mail.RenderReplayAlert(mail.ReplayAlert{
		AppName:    e.config.Devices.AppName,
		To:         user.Email,
		FirstName:  user.FirstName,
		IP:         ip,
		DetectedAt: e.clock(),
	})
	if err != nil {
		e.logger.Error("render replay alert failed", "err", err)
		return false
	}
	return e.deliver(ctx, userID, msg, "replay")
}

func (e *Engine) deliver(ctx context.Context, userID string, msg mail.Message, kind string) bool {
	if err := e.mailer.Send(ctx, msg); err != nil {
		e.metricInc(MetricAlertFailed)
		e.logger.Warn("security alert not sent", "kind", kind, "user_id", userID, "err", err)
		return false
	}
	e.metricInc(MetricAlertSent)
	return true
}

// ownedDevice hides devices of other users behind ErrDeviceNotFound.
func (e *Engine) ownedDevice(ctx context.Context, deviceID, userID string) (*KnownDevice, error) {
	d, err := e.store.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("load device: %w", err)
	}
	if d.UserID != userID {
		return nil, ErrDeviceNotFound
	}
	return d, nil
}

// TrustDevice marks a device trusted. Trusting a trusted device is a no-op.
func (e *Engine) TrustDevice(ctx context.Context, deviceID, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	d, err := e.ownedDevice(ctx, deviceID, userID)
	if err != nil {
		e.emitAudit(ctx, auditEventDeviceTrusted, false, userID, err, func() map[string]string {
			return map[string]string{"device_id": deviceID}
		})
		return err
	}
	if d.TrustedAt == nil {
		if err := e.store.MarkDeviceTrusted(ctx, d.ID, e.clock()); err != nil {
			return fmt.Errorf("trust device: %w", err)
		}
		e.metricInc(MetricDeviceTrusted)
	}
	e.emitAudit(ctx, auditEventDeviceTrusted, true, userID, nil, func() map[string]string {
		return map[string]string{"device_id": d.ID, "already_trusted": fmt.Sprint(d.TrustedAt != nil)}
	})
	return nil
}

// RevokeDeviceAndSessions deletes the device and revokes every refresh token
// of the user in one transaction. It backs the "this wasn't me" email link.
func (e *Engine) RevokeDeviceAndSessions(ctx context.Context, deviceID, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	d, err := e.ownedDevice(ctx, deviceID, userID)
	if err != nil {
		return err
	}
	if err := e.store.DeleteDeviceWithTokens(ctx, d.ID, userID, true, e.clock()); err != nil {
		return fmt.Errorf("revoke device and sessions: %w", err)
	}
	e.metricInc(MetricDeviceRevoked)
	e.emitAudit(ctx, auditEventDeviceSessionsRevoked, true, userID, nil, func() map[string]string {
		return map[string]string{"device_id": d.ID, "name": d.Name}
	})
	return nil
}

// RevokeDevice deletes a device and only its own refresh tokens. The device
// matching currentFingerprint cannot be revoked.
func (e *Engine) RevokeDevice(ctx context.Context, userID, deviceID, currentFingerprint string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	d, err := e.ownedDevice(ctx, deviceID, userID)
	if err != nil {
		return err
	}
	if currentFingerprint != "" && d.Fingerprint == currentFingerprint {
		e.emitAudit(ctx, auditEventDeviceRevoked, false, userID, ErrCannotRevokeCurrentDevice, func() map[string]string {
			return map[string]string{"device_id": d.ID}
		})
		return ErrCannotRevokeCurrentDevice
	}
	if err := e.store.DeleteDeviceWithTokens(ctx, d.ID, userID, false, e.clock()); err != nil {
		return fmt.Errorf("revoke device: %w", err)
	}
	e.metricInc(MetricDeviceRevoked)
	e.emitAudit(ctx, auditEventDeviceRevoked, true, userID, nil, func() map[string]string {
		return map[string]string{"device_id": d.ID, "name": d.Name}
	})
	return nil
}

// ListDevices returns the user's devices, flagging the one matching
// currentFingerprint.
func (e *Engine) ListDevices(ctx context.Context, userID, currentFingerprint string) ([]DeviceView, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	devices, err := e.store.ListDevices(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	out := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceView{
			KnownDevice: d,
			Trusted:     d.TrustedAt != nil,
			IsCurrent:   currentFingerprint != "" && d.Fingerprint == currentFingerprint,
		})
	}
	return out, nil
}

// describeUserAgent turns a User-Agent into a label like "Chrome on Windows".
func describeUserAgent(ua string) string {
	if strings.TrimSpace(ua) == "" {
		return "Unknown device"
	}

	browser := "Unknown browser"
	switch {
	case strings.Contains(ua, "Edg/"):
		browser = "Edge"
	case strings.Contains(ua, "OPR/"), strings.Contains(ua, "Opera"):
		browser = "Opera"
	case strings.Contains(ua, "Firefox/"), strings.Contains(ua, "FxiOS/"):
		browser = "Firefox"
	case strings.Contains(ua, "Chrome/"), strings.Contains(ua, "CriOS/"):
		browser = "Chrome"
	case strings.Contains(ua, "Safari/"):
		browser = "Safari"
	}

	os := "Unknown OS"
	switch {
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		os = "iOS"
	case strings.Contains(ua, "Android"):
		os = "Android"
	case strings.Contains(ua, "Windows"):
		os = "Windows"
	case strings.Contains(ua, "Mac OS X"), strings.Contains(ua, "Macintosh"):
		os = "macOS"
	case strings.Contains(ua, "Linux"):
		os = "Linux"
	}

	return browser + " on " + os
}
