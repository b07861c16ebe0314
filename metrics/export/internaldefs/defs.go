package internaldefs

import authcore "github.com/Bidiche49/art-des-jardins-sub001"

// Prefix starts every exported series name.
const Prefix = "authcore_"

// Def names one engine metric.
type Def struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// Counters lists every engine counter in export order.
var Counters = []Def{
	{authcore.MetricLoginSuccess, Prefix + "login_success_total", "Password logins that issued a session."},
	{authcore.MetricLoginFailure, Prefix + "login_failure_total", "Password logins rejected with invalid credentials."},
	{authcore.MetricLoginRateLimited, Prefix + "login_rate_limited_total", "Logins refused by the per-IP/email limiter."},
	{authcore.MetricLoginTwoFactorRequired, Prefix + "login_two_factor_required_total", "Logins that stopped at the second factor."},
	{authcore.MetricRefreshSuccess, Prefix + "refresh_success_total", "Refresh tokens rotated."},
	{authcore.MetricRefreshFailure, Prefix + "refresh_failure_total", "Refresh attempts rejected."},
	{authcore.MetricRefreshReplayDetected, Prefix + "refresh_replay_detected_total", "Reuse of an already rotated refresh token."},
	{authcore.MetricRefreshRateLimited, Prefix + "refresh_rate_limited_total", "Rotations refused by the per-family limiter."},
	{authcore.MetricFamilyRevoked, Prefix + "token_family_revoked_total", "Refresh token families revoked."},
	{authcore.MetricLogout, Prefix + "logout_total", "Logouts."},
	{authcore.MetricTokensCleaned, Prefix + "tokens_cleaned_total", "Expired or stale refresh rows deleted by the janitor."},
	{authcore.MetricTwoFactorSetup, Prefix + "two_factor_setup_total", "TOTP secrets generated."},
	{authcore.MetricTwoFactorEnabled, Prefix + "two_factor_enabled_total", "Second factors enabled."},
	{authcore.MetricTwoFactorDisabled, Prefix + "two_factor_disabled_total", "Second factors disabled."},
	{authcore.MetricTwoFactorSuccess, Prefix + "two_factor_success_total", "Second-factor codes accepted."},
	{authcore.MetricTwoFactorFailure, Prefix + "two_factor_failure_total", "Second-factor codes rejected."},
	{authcore.MetricTwoFactorLocked, Prefix + "two_factor_locked_total", "Accounts locked after repeated code failures."},
	{authcore.MetricRecoveryCodeUsed, Prefix + "recovery_code_used_total", "Recovery codes consumed."},
	{authcore.MetricRecoveryCodesRegenerated, Prefix + "recovery_codes_regenerated_total", "Recovery code sets regenerated."},
	{authcore.MetricDeviceNew, Prefix + "device_new_total", "Devices seen for the first time."},
	{authcore.MetricDeviceTrusted, Prefix + "device_trusted_total", "Devices marked trusted."},
	{authcore.MetricDeviceRevoked, Prefix + "device_revoked_total", "Devices revoked."},
	{authcore.MetricAlertSent, Prefix + "alert_sent_total", "Security alert emails delivered."},
	{authcore.MetricAlertFailed, Prefix + "alert_failed_total", "Security alert emails that failed."},
	{authcore.MetricWebAuthnRegistered, Prefix + "webauthn_registered_total", "Passkeys registered."},
	{authcore.MetricWebAuthnRegistrationFailure, Prefix + "webauthn_registration_failure_total", "Passkey registrations rejected."},
	{authcore.MetricWebAuthnLoginSuccess, Prefix + "webauthn_login_success_total", "Passkey logins."},
	{authcore.MetricWebAuthnLoginFailure, Prefix + "webauthn_login_failure_total", "Passkey logins rejected."},
	{authcore.MetricWebAuthnCloneDetected, Prefix + "webauthn_clone_detected_total", "Assertions with a non-increasing signature counter."},
}

// Histograms lists the latency histograms.
var Histograms = []Def{
	{authcore.MetricValidateLatency, Prefix + "validate_latency_seconds", "Access token validation latency."},
}

// AuditDropped is the series for events the audit dispatcher discarded.
var AuditDropped = Def{Name: Prefix + "audit_dropped_total", Help: "Audit events dropped under backpressure."}

// Bounds are the upper bounds of the eight engine buckets, in seconds.
var Bounds = [8]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// BoundSuffix renders Bounds in a form valid inside an instrument name.
var BoundSuffix = [8]string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// Cumulative turns raw per-bucket counts into cumulative counts. Missing
// buckets count as zero.
func Cumulative(raw []uint64) [8]uint64 {
	var (
		out     [8]uint64
		running uint64
	)
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
