package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	authcore "github.com/Bidiche49/art-des-jardins-sub001"
	"github.com/gin-gonic/gin"
)

type errorMapping struct {
	target error
	status int
}

// ordered: the first sentinel matched by errors.Is wins.
var errorMappings = []errorMapping{
	{authcore.ErrInvalidCredentials, http.StatusUnauthorized},
	{authcore.ErrUnauthorized, http.StatusUnauthorized},
	{authcore.ErrTwoFactorRequired, http.StatusUnauthorized},
	{authcore.ErrTwoFactorInvalid, http.StatusUnauthorized},
	{authcore.ErrTokenInvalid, http.StatusUnauthorized},
	{authcore.ErrTokenExpired, http.StatusUnauthorized},
	{authcore.ErrTokenRevoked, http.StatusUnauthorized},
	{authcore.ErrTokenReplayDetected, http.StatusUnauthorized},
	{authcore.ErrTwoFactorLocked, http.StatusLocked},
	{authcore.ErrLoginRateLimited, http.StatusTooManyRequests},
	{authcore.ErrRefreshRateLimited, http.StatusTooManyRequests},
	{authcore.ErrDeviceNotFound, http.StatusNotFound},
	{authcore.ErrCredentialNotFound, http.StatusNotFound},
	{authcore.ErrNotFound, http.StatusNotFound},
	{authcore.ErrTwoFactorAlreadyEnabled, http.StatusConflict},
	{authcore.ErrCannotRevokeCurrentDevice, http.StatusBadRequest},
	{authcore.ErrTwoFactorNotPending, http.StatusBadRequest},
	{authcore.ErrTwoFactorNotEnabled, http.StatusBadRequest},
	{authcore.ErrChallengeExpired, http.StatusBadRequest},
	{authcore.ErrVerificationFailed, http.StatusBadRequest},
	{authcore.ErrNoPasskeys, http.StatusBadRequest},
	{authcore.ErrEngineNotReady, http.StatusServiceUnavailable},
}

// statusFor returns the status code and public message for err. Wrapped
// detail never reaches the client, except the remaining lockout time.
func statusFor(err error) (int, string) {
	var locked *authcore.TwoFactorLockedError
	if errors.As(err, &locked) {
		return http.StatusLocked, locked.Error()
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.target.Error()
		}
	}
	return http.StatusInternalServerError, "internal error"
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", slog.String("path", c.FullPath()), slog.Any("err", err))
	}
	body := gin.H{"error": msg}
	var locked *authcore.TwoFactorLockedError
	if errors.As(err, &locked) {
		c.Header("Retry-After", strconv.Itoa(locked.Minutes*60))
		body["retryAfterMinutes"] = locked.Minutes
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
