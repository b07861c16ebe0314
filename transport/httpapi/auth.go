package httpapi

import (
	"net/http"

	authcore "github.com/Bidiche49/art-des-jardins-sub001"
	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email         string `json:"email" binding:"required"`
	Password      string `json:"password" binding:"required"`
	TwoFactorCode string `json:"twoFactorCode"`
}

func (h *Handler) login(c *gin.Context) {
	var body loginRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "email and password are required")
		return
	}
	res, err := h.svc.Login(c.Request.Context(), authcore.LoginInput{
		Email:         body.Email,
		Password:      body.Password,
		TwoFactorCode: body.TwoFactorCode,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (h *Handler) refresh(c *gin.Context) {
	var body refreshRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "refreshToken is required")
		return
	}
	pair, err := h.svc.RotateRefreshToken(c.Request.Context(), body.RefreshToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.svc.Logout(c.Request.Context(), userID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type codeRequest struct {
	Code string `json:"code" binding:"required"`
}

func bindCode(c *gin.Context) (string, bool) {
	var body codeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "code is required")
		return "", false
	}
	return body.Code, true
}

func (h *Handler) twoFactorStatus(c *gin.Context) {
	status, err := h.svc.TwoFactorStatus(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) twoFactorSetup(c *gin.Context) {
	setup, err := h.svc.SetupTwoFactor(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, setup)
}

func (h *Handler) twoFactorVerifySetup(c *gin.Context) {
	code, ok := bindCode(c)
	if !ok {
		return
	}
	res, err := h.svc.VerifyTwoFactorSetup(c.Request.Context(), userID(c), code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) twoFactorDisable(c *gin.Context) {
	code, ok := bindCode(c)
	if !ok {
		return
	}
	if err := h.svc.DisableTwoFactor(c.Request.Context(), userID(c), code); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) twoFactorRegenerate(c *gin.Context) {
	code, ok := bindCode(c)
	if !ok {
		return
	}
	codes, err := h.svc.RegenerateRecoveryCodes(c.Request.Context(), userID(c), code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recoveryCodes": codes})
}
