package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	authcore "github.com/Bidiche49/art-des-jardins-sub001"
	"github.com/Bidiche49/art-des-jardins-sub001/jwt"
	"github.com/gin-gonic/gin"
)

// Outcomes reported to the frontend by the e-mail action links.
const (
	actionTrusted = "trusted"
	actionRevoked = "revoked"
	actionInvalid = "invalid"
	actionError   = "error"
)

func (h *Handler) listDevices(c *gin.Context) {
	devices, err := h.svc.ListDevices(c.Request.Context(), userID(c), currentFingerprint(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if devices == nil {
		devices = []authcore.DeviceView{}
	}
	c.JSON(http.StatusOK, devices)
}

func (h *Handler) trustDevice(c *gin.Context) {
	if err := h.svc.TrustDevice(c.Request.Context(), c.Param("id"), userID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) revokeDevice(c *gin.Context) {
	err := h.svc.RevokeDevice(c.Request.Context(), userID(c), c.Param("id"), currentFingerprint(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// deviceAction serves the links of the new-device email. It never returns an
// error body: every outcome is a redirect to the frontend.
func (h *Handler) deviceAction(c *gin.Context) {
	want := jwt.ActionTrust
	if strings.HasSuffix(c.Request.URL.Path, "/revoke") {
		want = jwt.ActionRevoke
	}

	claims := h.svc.ValidateDeviceActionToken(c.Query("token"))
	if claims == nil || claims.Action != want {
		h.redirect(c, actionInvalid)
		return
	}

	ctx := c.Request.Context()
	outcome := actionTrusted
	var err error
	if want == jwt.ActionTrust {
		err = h.svc.TrustDevice(ctx, claims.DeviceID, claims.UserID)
	} else {
		outcome = actionRevoked
		err = h.svc.RevokeDeviceAndSessions(ctx, claims.DeviceID, claims.UserID)
	}
	switch {
	case errors.Is(err, authcore.ErrDeviceNotFound):
		outcome = actionInvalid
	case err != nil:
		h.log.Error("device action failed", slog.String("action", want), slog.Any("err", err))
		outcome = actionError
	}
	h.redirect(c, outcome)
}

func (h *Handler) redirect(c *gin.Context, status string) {
	target := strings.TrimRight(h.frontendURL, "/") + "/security/devices?status=" + url.QueryEscape(status)
	c.Redirect(http.StatusFound, target)
}
