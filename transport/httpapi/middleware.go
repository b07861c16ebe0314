package httpapi

import (
	"net/http"
	"strings"

	authcore "github.com/Bidiche49/art-des-jardins-sub001"
	"github.com/Bidiche49/art-des-jardins-sub001/jwt"
	"github.com/gin-gonic/gin"
)

const claimsKey = "authcore.claims"

// requestMetadata copies the client address and headers the engine reads
// (fingerprint inputs, relying-party origin) into the request context.
func requestMetadata() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ctx = authcore.WithClientIP(ctx, c.ClientIP())
		ctx = authcore.WithUserAgent(ctx, c.GetHeader("User-Agent"))
		ctx = authcore.WithAcceptLanguage(ctx, c.GetHeader("Accept-Language"))
		ctx = authcore.WithRequestOrigin(ctx, c.GetHeader("Origin"))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAuth rejects requests without a valid access token and stores its
// claims for the handlers.
func (h *Handler) RequireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": authcore.ErrUnauthorized.Error()})
		return
	}
	claims, err := h.svc.ValidateAccessToken(c.Request.Context(), strings.TrimSpace(token))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Set(claimsKey, claims)
	c.Next()
}

func claimsFrom(c *gin.Context) *jwt.AccessClaims {
	v, _ := c.Get(claimsKey)
	claims, _ := v.(*jwt.AccessClaims)
	return claims
}

func userID(c *gin.Context) string {
	if claims := claimsFrom(c); claims != nil {
		return claims.Subject
	}
	return ""
}

func currentFingerprint(c *gin.Context) string {
	return authcore.GenerateFingerprint(c.GetHeader("User-Agent"), c.GetHeader("Accept-Language"))
}
