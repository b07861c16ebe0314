package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// maxCeremonyBody caps authenticator responses read from the client.
const maxCeremonyBody = 64 << 10

func readCeremony(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCeremonyBody))
	if err != nil || len(body) == 0 {
		badRequest(c, "missing authenticator response")
		return nil, false
	}
	return body, true
}

func (h *Handler) webauthnRegisterStart(c *gin.Context) {
	options, err := h.svc.BeginWebAuthnRegistration(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, options)
}

// webauthnRegisterFinish takes the raw attestation as the body; the optional
// device name comes from the deviceName query parameter.
func (h *Handler) webauthnRegisterFinish(c *gin.Context) {
	body, ok := readCeremony(c)
	if !ok {
		return
	}
	cred, err := h.svc.FinishWebAuthnRegistration(c.Request.Context(), userID(c), body, c.Query("deviceName"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cred)
}

type loginStartRequest struct {
	Email string `json:"email"`
}

func (h *Handler) webauthnLoginStart(c *gin.Context) {
	var body loginStartRequest
	// An empty body starts a discoverable-credential login.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid body")
			return
		}
	}
	options, err := h.svc.BeginWebAuthnLogin(c.Request.Context(), body.Email)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, options)
}

func (h *Handler) webauthnLoginFinish(c *gin.Context) {
	body, ok := readCeremony(c)
	if !ok {
		return
	}
	res, err := h.svc.CompleteWebAuthnLogin(c.Request.Context(), body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) listCredentials(c *gin.Context) {
	creds, err := h.svc.ListWebAuthnCredentials(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": creds})
}

func (h *Handler) deleteCredential(c *gin.Context) {
	if err := h.svc.DeleteWebAuthnCredential(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
